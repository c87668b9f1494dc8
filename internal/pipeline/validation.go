package pipeline

import (
	"sort"
	"strings"
)

// DepartmentDirectory resolves free-text department names to the canonical
// identifiers budgets are configured under.
type DepartmentDirectory struct {
	canonical map[string]string // normalized name -> canonical name
}

// NewDepartmentDirectory builds a directory from canonical names. Aliases
// map alternative spellings (for example cost-centre codes) to a canonical name.
func NewDepartmentDirectory(names []string, aliases map[string]string) *DepartmentDirectory {
	d := &DepartmentDirectory{canonical: make(map[string]string, len(names)+len(aliases))}
	for _, name := range names {
		if n := normalizeDepartment(name); n != "" {
			d.canonical[n] = strings.TrimSpace(name)
		}
	}
	for alias, target := range aliases {
		if canon, ok := d.canonical[normalizeDepartment(target)]; ok {
			d.canonical[normalizeDepartment(alias)] = canon
		}
	}
	return d
}

// Resolve returns the canonical name for department, or false if unknown.
// A nil directory accepts every non-empty name as given.
func (d *DepartmentDirectory) Resolve(department string) (string, bool) {
	if d == nil {
		name := strings.TrimSpace(department)
		return name, name != ""
	}
	canon, ok := d.canonical[normalizeDepartment(department)]
	return canon, ok
}

// Names lists the canonical departments in sorted order.
func (d *DepartmentDirectory) Names() []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(d.canonical))
	names := make([]string, 0, len(d.canonical))
	for _, canon := range d.canonical {
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		names = append(names, canon)
	}
	sort.Strings(names)
	return names
}

// normalizeDepartment converts to uppercase, trims whitespace and
// collapses internal runs of spaces for case-insensitive comparison.
func normalizeDepartment(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}
