package misc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyConfigTemplate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.example.yaml")
	if err := os.WriteFile(src, []byte("port: 8317\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	dst := filepath.Join(dir, "nested", "config.yaml")
	if err := CopyConfigTemplate(src, dst); err != nil {
		t.Fatalf("CopyConfigTemplate: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(data) != "port: 8317\n" {
		t.Fatalf("copy = %q", data)
	}
	if err = CopyConfigTemplate(filepath.Join(dir, "missing.yaml"), dst); err == nil {
		t.Fatalf("expected error for missing template")
	}
}
