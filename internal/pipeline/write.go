package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tablesync/internal/ir"
)

// TableWrite is one table entry update in pipeline terms: names rather than
// ids, values already coerced to 16 bits.
type TableWrite struct {
	Kind     ir.UpdateKind
	Table    string // qualified table name
	Action   string // qualified action name
	Match    map[string]uint16
	Params   map[string]uint16
	Priority int32
}

// String renders the write deterministically:
//
//	insert ingress.dmac(dst=5) -> ingress.set_port(port=3) prio=0
func (w TableWrite) String() string {
	return fmt.Sprintf("%s %s(%s) -> %s(%s) prio=%d",
		w.Kind, w.Table, formatValues(w.Match), w.Action, formatValues(w.Params), w.Priority)
}

func formatValues(m map[string]uint16) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, ", ")
}
