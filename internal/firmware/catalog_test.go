package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"domator-go/internal/store"
)

func TestUpToDate(t *testing.T) {
	c, err := NewCatalog(map[string]string{"relay": "abc123"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		kind    store.Kind
		version string
		want    bool
	}{
		{store.KindRelay, "abc123", true},
		{store.KindRelay, "old", false},
		{store.KindSwitch, "anything", true},
	}
	for _, tt := range tests {
		if got := c.UpToDate(tt.kind, tt.version); got != tt.want {
			t.Errorf("UpToDate(%s, %s) = %v, want %v", tt.kind, tt.version, got, tt.want)
		}
	}
}

func TestNewCatalogRejectsUnknownKind(t *testing.T) {
	if _, err := NewCatalog(map[string]string{"lamp": "1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.yaml")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.All()) != 0 {
		t.Fatalf("missing file produced %v", c.All())
	}
	if err := c.Set(store.KindSwitch, "f00d"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("catalog not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := reloaded.Latest(store.KindSwitch); !ok || v != "f00d" {
		t.Errorf("reloaded switch = %q/%v", v, ok)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.yaml")
	os.WriteFile(path, []byte("versions: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
