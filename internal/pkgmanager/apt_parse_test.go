package pkgmanager

import (
	"reflect"
	"testing"

	"github.com/guestpatch/patchcore/internal/model"
)

func TestParseAptList(t *testing.T) {
	stdout := `Listing...
openssl/focal-security 1.1.1k amd64 [upgradable from: 1.1.1f]
vim/focal-updates 8.2 amd64 [upgradable from: 8.1]

curl/focal 7.68.0 amd64 [upgradable from: 7.67.0]
`
	got := parseAptList(stdout)
	want := []UpdateCandidate{
		{Name: "openssl", Version: "1.1.1k", Classification: model.ClassificationSecurity},
		{Name: "vim", Version: "8.2", Classification: model.ClassificationOther},
		{Name: "curl", Version: "7.68.0", Classification: model.ClassificationOther},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseAptList_Empty(t *testing.T) {
	if got := parseAptList("Listing...\n"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestParseAptSimulate(t *testing.T) {
	stdout := `Inst libssl1.1 [1.1.1f] (1.1.1k Ubuntu:20.04/focal-security [amd64])
Inst openssl [1.1.1f] (1.1.1k Ubuntu:20.04/focal-security [amd64])
Conf libssl1.1 (1.1.1k Ubuntu:20.04/focal-security [amd64])
Conf openssl (1.1.1k Ubuntu:20.04/focal-security [amd64])
`
	got := parseAptSimulate(stdout, []string{"openssl"})
	if !reflect.DeepEqual(got.AdditionalDependencies, []string{"libssl1.1"}) {
		t.Fatalf("got %+v", got.AdditionalDependencies)
	}
	if len(got.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", got.Conflicts)
	}
}

func TestAptResultIsNoop(t *testing.T) {
	cases := map[string]bool{
		"0 upgraded, 0 newly installed, 0 to remove and 0 not upgraded.": true,
		"openssl is already the newest version (1.1.1k).":                true,
		"E: Unable to locate package doesnotexist":                       true,
		"some error occurred":                                            false,
	}
	for input, want := range cases {
		if got := aptResultIsNoop(input); got != want {
			t.Errorf("aptResultIsNoop(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestClassifyAptPocket(t *testing.T) {
	cases := map[string]model.Classification{
		"focal-security": model.ClassificationSecurity,
		"focal-updates":  model.ClassificationOther,
		"focal":          model.ClassificationOther,
		"":               model.ClassificationUnknown,
	}
	for pocket, want := range cases {
		if got := classifyAptPocket(pocket); got != want {
			t.Errorf("classifyAptPocket(%q) = %v, want %v", pocket, got, want)
		}
	}
}
