package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		path   string
		image  bool
		raw    bool
		native bool
	}{
		{"a.png", true, false, true},
		{"B.JPG", true, false, true},
		{"c.tiff", true, false, true},
		{"d.NEF", true, true, false},
		{"e.fits", true, true, false},
		{"notes.txt", false, false, false},
		{"noext", false, false, false},
	}
	for _, tt := range tests {
		if got := IsImageFile(tt.path); got != tt.image {
			t.Errorf("IsImageFile(%q) = %v, want %v", tt.path, got, tt.image)
		}
		if got := IsRAWFile(tt.path); got != tt.raw {
			t.Errorf("IsRAWFile(%q) = %v, want %v", tt.path, got, tt.raw)
		}
		if got := IsNativeFile(tt.path); got != tt.native {
			t.Errorf("IsNativeFile(%q) = %v, want %v", tt.path, got, tt.native)
		}
	}
}

func TestListImages(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "skip.txt", filepath.Join("night", "c.nef")} {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ListImages(root)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "b.png"),
		filepath.Join(root, "night", "c.nef"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected files (-want +got):\n%s", diff)
	}

	raw, processed := SeparateRAWAndProcessed(got)
	if len(raw) != 1 || len(processed) != 2 {
		t.Fatalf("unexpected split: raw=%v processed=%v", raw, processed)
	}
}
