package pkgmanager

import (
	"reflect"
	"testing"

	"github.com/guestpatch/patchcore/internal/model"
)

func TestParseYumCheckUpdate(t *testing.T) {
	stdout := `selinux-policy-targeted.noarch   3.13.1-268.el7   updates
kernel.x86_64                    3.10.0-1160.el7  updates

Obsoleting Packages
foo.noarch                       1.0-1.el7        updates
`
	got := parseYumCheckUpdate(stdout)
	want := []UpdateCandidate{
		{Name: "selinux-policy-targeted", Version: "3.13.1-268.el7", Classification: model.ClassificationUnknown},
		{Name: "kernel", Version: "3.10.0-1160.el7", Classification: model.ClassificationUnknown},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseYumUpdateInfo(t *testing.T) {
	stdout := `FEDORA-2024-abcd123 Security/Critical selinux-policy-targeted-3.13.1-268.el7.noarch
FEDORA-2024-xyz987   bugfix              kernel-3.10.0-1160.el7.x86_64
`
	got := parseYumUpdateInfo(stdout)
	if got["selinux-policy-targeted"] != model.ClassificationCritical {
		t.Fatalf("expected Critical, got %v", got["selinux-policy-targeted"])
	}
	if got["kernel"] != model.ClassificationOther {
		t.Fatalf("expected Other, got %v", got["kernel"])
	}
}

func TestYumResultIsNoop(t *testing.T) {
	if !yumResultIsNoop("No packages marked for update") {
		t.Fatal("expected noop")
	}
	if yumResultIsNoop("Error: some other failure") {
		t.Fatal("did not expect noop")
	}
}
