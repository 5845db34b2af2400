package responses

import (
	"sync"
	"testing"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
)

func entry(name, content string) Entry {
	return Entry{Name: name, Message: discord.Message{Content: content}}
}

func TestTable_Lookup(t *testing.T) {
	table := NewTable([]Entry{entry("ping", "pong!"), entry("help", "see docs")})

	tests := []struct {
		name    string
		command string
		want    string
		found   bool
	}{
		{"exact match", "ping", "pong!", true},
		{"second entry", "help", "see docs", true},
		{"unknown", "unknown", "", false},
		{"case sensitive", "Ping", "", false},
		{"no prefix match", "pin", "", false},
		{"empty name", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Lookup(tt.command)
			if ok != tt.found {
				t.Fatalf("Lookup(%q) found = %v, want %v", tt.command, ok, tt.found)
			}
			if got.Message.Content != tt.want {
				t.Errorf("Lookup(%q) content = %q, want %q", tt.command, got.Message.Content, tt.want)
			}
		})
	}
}

func TestTable_FirstEntryWins(t *testing.T) {
	table := NewTable([]Entry{entry("ping", "first"), entry("ping", "second")})

	got, ok := table.Lookup("ping")
	if !ok || got.Message.Content != "first" {
		t.Fatalf("Lookup(ping) = %+v, %v; want first entry", got, ok)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestTable_EntriesPreserveOrder(t *testing.T) {
	table := NewTable([]Entry{entry("b", "2"), entry("a", "1"), entry("c", "3")})
	entries := table.Entries()
	want := []string{"b", "a", "c"}
	if len(entries) != len(want) {
		t.Fatalf("Entries() len = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("Entries()[%d] = %q, want %q", i, e.Name, want[i])
		}
	}
}

func TestTable_Nil(t *testing.T) {
	var table *Table
	if _, ok := table.Lookup("ping"); ok {
		t.Error("nil table should have no entries")
	}
	if table.Len() != 0 {
		t.Error("nil table Len() should be 0")
	}
}

func TestRegistry_Swap(t *testing.T) {
	reg := NewRegistry(NewTable([]Entry{entry("ping", "pong!")}))

	if got, ok := reg.Lookup("ping"); !ok || got.Message.Content != "pong!" {
		t.Fatalf("Lookup(ping) = %+v, %v", got, ok)
	}

	reg.Store(NewTable([]Entry{entry("ping", "pong v2")}))
	if got, _ := reg.Lookup("ping"); got.Message.Content != "pong v2" {
		t.Errorf("after Store, content = %q, want pong v2", got.Message.Content)
	}

	reg.Store(nil)
	if reg.Load().Len() != 0 {
		t.Errorf("Store(nil) should serve an empty table")
	}
}

func TestRegistry_ConcurrentReadsDuringSwap(t *testing.T) {
	reg := NewRegistry(NewTable([]Entry{entry("ping", "a")}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				got, ok := reg.Lookup("ping")
				if !ok || (got.Message.Content != "a" && got.Message.Content != "b") {
					t.Errorf("torn read: %+v, %v", got, ok)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			reg.Store(NewTable([]Entry{entry("ping", "b")}))
		} else {
			reg.Store(NewTable([]Entry{entry("ping", "a")}))
		}
	}
	wg.Wait()
}
