package rpc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSocketPathShort(t *testing.T) {
	got := SocketPath("/home/user/.fieldmerge")
	if got != "/home/user/.fieldmerge/fieldmerge.sock" {
		t.Errorf("SocketPath = %q", got)
	}
}

func TestSocketPathLongUsesTmp(t *testing.T) {
	long := "/" + strings.Repeat("nested-directory/", 8) + ".fieldmerge"
	got := SocketPath(long)
	if !strings.HasPrefix(got, "/tmp/fieldmerge-") {
		t.Fatalf("SocketPath = %q", got)
	}
	if len(got) > MaxUnixSocketPath {
		t.Errorf("path too long: %d", len(got))
	}
	if SocketPath(long) != got {
		t.Error("SocketPath is not deterministic")
	}
}

func TestCleanupSocketDirRemovesHashedDir(t *testing.T) {
	long := "/" + strings.Repeat("cleanup-directory/", 8)
	path := SocketPath(long)
	if _, err := EnsureSocketDir(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := CleanupSocketDir(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(path)); !os.IsNotExist(err) {
		t.Errorf("hashed dir still present: %v", err)
	}
}
