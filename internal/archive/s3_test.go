package archive

import (
	"os"
	"testing"
)

// TestNewUploader_DisabledWithoutEnvToggles confirms archival stays off by
// default: no bucket/region means NewUploader must not attempt to build an
// AWS session, let alone error because one wasn't configured.
func TestNewUploader_DisabledWithoutEnvToggles(t *testing.T) {
	os.Unsetenv("PATCHCORE_ARCHIVE_BUCKET")
	os.Unsetenv("AWS_REGION")
	u, ok, err := NewUploader()
	if err != nil {
		t.Fatal(err)
	}
	if ok || u != nil {
		t.Fatalf("expected archival to be disabled, got ok=%v u=%v", ok, u)
	}
}

func TestNewUploader_DisabledWithOnlyBucketSet(t *testing.T) {
	os.Setenv("PATCHCORE_ARCHIVE_BUCKET", "my-bucket")
	defer os.Unsetenv("PATCHCORE_ARCHIVE_BUCKET")
	os.Unsetenv("AWS_REGION")
	_, ok, err := NewUploader()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected archival to stay disabled without AWS_REGION")
	}
}
