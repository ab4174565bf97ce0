package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandHome_NoTilde(t *testing.T) {
	got, err := ExpandHome("/etc/fleetd.yaml")
	if err != nil {
		t.Fatalf("ExpandHome: %v", err)
	}
	if got != "/etc/fleetd.yaml" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandHome_Empty(t *testing.T) {
	got, err := ExpandHome("")
	if err != nil || got != "" {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestExpandHome_Tilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in this environment")
	}
	got, err := ExpandHome("~/fleetd.yaml")
	if err != nil {
		t.Fatalf("ExpandHome: %v", err)
	}
	if got != filepath.Join(home, "fleetd.yaml") {
		t.Fatalf("got %q", got)
	}
	got, err = ExpandHome("~")
	if err != nil || got != home {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "x")
	if PathExists(f) {
		t.Fatalf("expected missing path")
	}
	if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !PathExists(f) {
		t.Fatalf("expected existing path")
	}
	if !strings.HasPrefix(f, dir) {
		t.Fatalf("sanity: %s", f)
	}
}
