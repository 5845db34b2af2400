// Package responses holds the command name to follow-up message table that
// workers consult when completing an interaction.
package responses

import (
	"sync/atomic"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
)

// Entry is one configured command.
type Entry struct {
	Name string
	// Description is only used when registering the command with Discord.
	Description string
	Message     discord.Message
}

// Lookup resolves a command name to its entry.
type Lookup interface {
	Lookup(name string) (Entry, bool)
}

// Table is an immutable set of entries keyed by exact, case-sensitive name.
type Table struct {
	byName map[string]Entry
	order  []string
}

// NewTable builds a table from entries. When two entries share a name the
// first one wins, mirroring a linear scan over the source list.
func NewTable(entries []Entry) *Table {
	t := &Table{
		byName: make(map[string]Entry, len(entries)),
		order:  make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		if _, exists := t.byName[e.Name]; exists {
			continue
		}
		t.byName[e.Name] = e
		t.order = append(t.order, e.Name)
	}
	return t
}

// Lookup returns the entry for name. A nil table has no entries.
func (t *Table) Lookup(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.byName[name]
	return e, ok
}

// Len returns the number of distinct commands.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Entries returns the entries in source order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}

// Registry publishes the current table. Readers never block; Store replaces
// the whole table at once.
type Registry struct {
	current atomic.Pointer[Table]
}

// NewRegistry creates a registry serving t.
func NewRegistry(t *Table) *Registry {
	r := &Registry{}
	if t == nil {
		t = NewTable(nil)
	}
	r.current.Store(t)
	return r
}

// Load returns the table currently being served.
func (r *Registry) Load() *Table {
	return r.current.Load()
}

// Store swaps in t.
func (r *Registry) Store(t *Table) {
	if t == nil {
		t = NewTable(nil)
	}
	r.current.Store(t)
}

// Lookup resolves name against the current table.
func (r *Registry) Lookup(name string) (Entry, bool) {
	return r.current.Load().Lookup(name)
}
