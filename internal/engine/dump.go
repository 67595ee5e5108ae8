package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/tablesync/internal/ir"
)

// RelationNamer maps relation ids to names. *Program implements it.
type RelationNamer interface {
	RelationName(id ir.RelID) string
}

// DumpDelta logs every change of a delta at debug level, one record per
// change, in deterministic order.
func DumpDelta(logger *slog.Logger, names RelationNamer, d ir.Delta) {
	for _, rel := range d.Relations() {
		name := names.RelationName(rel)
		for _, c := range d.Changes(rel) {
			logger.Debug("delta",
				"relation", name,
				"weight", c.Weight,
				"value", c.Value.String(),
			)
		}
	}
}

// FormatDelta renders a delta as text, one change per line:
//
//	Forward +1 Ingress.Forward{dst: 43707, action: Ingress.SetPort{port: 3}}
func FormatDelta(names RelationNamer, d ir.Delta) string {
	var b strings.Builder
	for _, rel := range d.Relations() {
		name := names.RelationName(rel)
		for _, c := range d.Changes(rel) {
			fmt.Fprintf(&b, "%s %+d %s\n", name, c.Weight, c.Value)
		}
	}
	return b.String()
}
