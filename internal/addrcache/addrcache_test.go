package addrcache

import (
	"net"
	"testing"
)

func TestPutGetContainsRemove(t *testing.T) {
	c := New(nil)
	hp := "example.com:80"

	if c.Contains(hp) {
		t.Fatal("empty cache should not contain anything")
	}
	if _, ok := c.Get(hp); ok {
		t.Fatal("Get on empty cache should miss")
	}

	addr := &net.TCPAddr{IP: net.ParseIP("93.184.216.34"), Port: 80}
	c.Put(hp, Entry{Network: "tcp", Addr: addr})

	if !c.Contains(hp) {
		t.Fatal("expected entry after Put")
	}
	got, ok := c.Get(hp)
	if !ok || got.Addr.String() != addr.String() {
		t.Fatalf("Get = %+v, ok=%v", got, ok)
	}

	c.Remove(hp)
	if c.Contains(hp) {
		t.Fatal("entry should be gone after Remove")
	}
}

func TestStatsCountsHitsAndMisses(t *testing.T) {
	c := New(nil)
	c.Put("a:80", Entry{Network: "tcp", Addr: &net.TCPAddr{}})

	c.Get("a:80")
	c.Get("missing:80")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit and 1 miss", stats)
	}
	if stats.Size != 1 {
		t.Errorf("Stats.Size = %d, want 1", stats.Size)
	}
}

func TestResolveNumericHostSkipsDNS(t *testing.T) {
	c := New(nil)
	addr, err := c.Resolve(t.Context(), "127.0.0.1", "8080")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.String() != "127.0.0.1:8080" {
		t.Errorf("Resolve numeric host = %q, want 127.0.0.1:8080", addr.String())
	}
	if !c.Contains("127.0.0.1:8080") {
		t.Error("successful resolution should be cached")
	}
}
