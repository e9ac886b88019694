package main

import "testing"

func TestHTTPPortParsesLocalhostAddr(t *testing.T) {
	if got := httpPort("localhost:3848"); got != 3848 {
		t.Fatalf("httpPort(localhost:3848) = %d, want 3848", got)
	}
}

func TestHTTPPortParsesBareColonAddr(t *testing.T) {
	if got := httpPort(":9000"); got != 9000 {
		t.Fatalf("httpPort(:9000) = %d, want 9000", got)
	}
}

func TestHTTPPortReturnsZeroForUnparseableAddr(t *testing.T) {
	if got := httpPort("/tmp/memoryd.sock"); got != 0 {
		t.Fatalf("httpPort(unix socket) = %d, want 0", got)
	}
}

func TestSameFileComparesAbsolutePaths(t *testing.T) {
	if !sameFile("./foo.db", "foo.db") {
		t.Fatal("expected relative and working-directory-qualified paths to compare equal")
	}
	if sameFile("a.db", "b.db") {
		t.Fatal("expected distinct filenames to compare unequal")
	}
}

func TestResolveActivePathUsesProjectDirHash(t *testing.T) {
	path, err := resolveActivePath("", "/home/user/project-a")
	if err != nil {
		t.Fatalf("resolveActivePath: %v", err)
	}
	otherPath, err := resolveActivePath("", "/home/user/project-b")
	if err != nil {
		t.Fatalf("resolveActivePath: %v", err)
	}
	if path == otherPath {
		t.Fatal("expected distinct project directories to hash to distinct database paths")
	}
}

func TestResolveActivePathPrefersExplicitFlag(t *testing.T) {
	path, err := resolveActivePath("/custom/active.db", "/home/user/project-a")
	if err != nil {
		t.Fatalf("resolveActivePath: %v", err)
	}
	if path != "/custom/active.db" {
		t.Fatalf("resolveActivePath = %q, want explicit override", path)
	}
}
