package blacklist

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBlacklist(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test blacklist: %v", err)
	}
	return path
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	path := writeBlacklist(t, "# comment\n\nbad.test\n")
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Allowed("bad.test") {
		t.Error("bad.test should be blocked")
	}
	if !l.Allowed("good.test") {
		t.Error("good.test should be allowed")
	}
}

func TestLoadExpandsWildcardIPv4(t *testing.T) {
	path := writeBlacklist(t, "10.*.*.1\n")
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, ip := range []string{"10.0.0.1", "10.255.255.1", "10.128.64.1"} {
		if l.Allowed(ip) {
			t.Errorf("%s should be blocked by wildcard pattern", ip)
		}
	}
	if !l.Allowed("10.0.0.2") {
		t.Error("10.0.0.2 should not match the wildcard pattern (last octet fixed to 1)")
	}
}

func TestWildcardExpansionCount(t *testing.T) {
	l, err := Load(writeBlacklist(t, "10.*.*.1\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.ips) != 256*256 {
		t.Errorf("expanded %d entries, want %d", len(l.ips), 256*256)
	}
}

func TestLiteralHostnameCaseInsensitive(t *testing.T) {
	l, err := Load(writeBlacklist(t, "Bad.Test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Allowed("bad.test") {
		t.Error("hostname matching should be case-insensitive")
	}
}

func TestEmptyAllowsEverything(t *testing.T) {
	l := Empty()
	if !l.Allowed("anything.example.com") {
		t.Error("empty blacklist should allow everything")
	}
}
