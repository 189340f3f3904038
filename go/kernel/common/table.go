package common

import (
	"sort"

	"github.com/winlinos/dwce/go/models"
)

type Entry struct {
	Op      Op
	Reshape Reshaper
	// Return converts the handler's first result to the native shape.
	Return func(interface{}) interface{}
}

// Table maps the native operation names of one ABI to canonical ops.
type Table struct {
	ABI     models.ABI
	Entries map[string]Entry
	// Resolve canonicalizes a native name before lookup, e.g. a syscall
	// number to its name.
	Resolve func(string) string
}

func (t *Table) Lookup(name string) (Entry, bool) {
	if t.Resolve != nil {
		name = t.Resolve(name)
	}
	e, ok := t.Entries[name]
	if !ok || e.Op == Unmapped {
		return Entry{}, false
	}
	return e, true
}

// Names lists the native names a table maps, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Entries))
	for name, e := range t.Entries {
		if e.Op != Unmapped {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
