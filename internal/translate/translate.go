// Package translate turns engine deltas into table writes.
//
// Each changed fact must be a NamedStruct whose tag resolves to a table.
// Its fields become match values, except "action" (a NamedStruct naming the
// action, whose fields become parameters) and "priority". Facts that cannot
// be translated are skipped and reported as gaps, never as errors.
package translate

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/pipeline"
)

// Field names with special meaning in a table record.
const (
	ActionField   = "action"
	PriorityField = "priority"
)

// GapReason says why a fact produced no table write.
type GapReason string

const (
	GapNotStruct       GapReason = "not_struct"
	GapNoTable         GapReason = "no_table"
	GapMalformedAction GapReason = "malformed_action"
	GapNoAction        GapReason = "no_action"
)

// Gap is a fact that could not be fully translated.
type Gap struct {
	Reason   GapReason
	Relation ir.RelID
	Value    ir.Record
}

var countGaps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "tablesync_translation_gaps_total",
	Help: "Number of delta facts skipped or partially translated, by reason.",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(countGaps)
}

// Options configures a Translator.
type Options struct {
	// Logger receives gap diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// DeleteOnRetraction emits DELETE writes for negative weights. By default
	// every change is written as an INSERT regardless of sign.
	DeleteOnRetraction bool
}

// Translator converts deltas to table writes.
type Translator struct {
	logger             *slog.Logger
	deleteOnRetraction bool
}

// New creates a Translator.
func New(opts Options) *Translator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{logger: logger, deleteOnRetraction: opts.DeleteOnRetraction}
}

// Translate converts a delta with default options, discarding gaps.
func Translate(delta ir.Delta, tables []pipeline.Table) []pipeline.TableWrite {
	writes, _ := New(Options{}).Translate(delta, tables)
	return writes
}

// Translate converts every change of delta, in relation id then fact key
// order, and returns the writes along with any gaps. A fact yields at most
// one write.
func (t *Translator) Translate(delta ir.Delta, tables []pipeline.Table) ([]pipeline.TableWrite, []Gap) {
	var (
		writes []pipeline.TableWrite
		gaps   []Gap
	)
	for _, rel := range delta.Relations() {
		for _, c := range delta.Changes(rel) {
			w, ok, factGaps := t.translateFact(rel, c, tables)
			gaps = append(gaps, factGaps...)
			if ok {
				writes = append(writes, w)
			}
		}
	}
	return writes, gaps
}

func (t *Translator) translateFact(rel ir.RelID, c ir.Change, tables []pipeline.Table) (pipeline.TableWrite, bool, []Gap) {
	var gaps []Gap
	gap := func(reason GapReason, msg string, args ...any) {
		countGaps.WithLabelValues(string(reason)).Inc()
		level := slog.LevelWarn
		if reason == GapNoTable || reason == GapNoAction {
			level = slog.LevelDebug
		}
		t.logger.Log(context.Background(), level, msg,
			append([]any{"reason", reason, "relation", rel, "value", c.Value.String()}, args...)...)
		gaps = append(gaps, Gap{Reason: reason, Relation: rel, Value: c.Value})
	}

	s, ok := c.Value.(ir.NamedStruct)
	if !ok {
		gap(GapNotStruct, "record is not a named struct")
		return pipeline.TableWrite{}, false, gaps
	}

	table, ok := pipeline.ResolveTable(s.Name, tables)
	if !ok {
		gap(GapNoTable, "no table matches record", "tag", s.Name)
		return pipeline.TableWrite{}, false, gaps
	}

	w := pipeline.TableWrite{
		Kind:   ir.Insert,
		Table:  table.Name,
		Match:  make(map[string]uint16),
		Params: make(map[string]uint16),
	}
	if t.deleteOnRetraction && c.Weight < 0 {
		w.Kind = ir.Delete
	}

	for _, f := range s.Fields {
		switch f.Name {
		case ActionField:
			as, ok := f.Value.(ir.NamedStruct)
			if !ok {
				gap(GapMalformedAction, "action field is not a named struct", "table", table.Name)
				return pipeline.TableWrite{}, false, gaps
			}
			if act, ok := pipeline.ResolveAction(as.Name, table.Actions); ok {
				w.Action = act.Name
			}
			for _, p := range as.Fields {
				w.Params[p.Name] = Coerce(p.Value)
			}
		case PriorityField:
			w.Priority = int32(Coerce(f.Value))
		default:
			w.Match[f.Name] = Coerce(f.Value)
		}
	}

	if w.Action == "" {
		gap(GapNoAction, "no action resolved for record", "table", table.Name)
		return pipeline.TableWrite{}, false, gaps
	}
	return w, true, gaps
}

// Coerce maps a scalar record to a 16-bit value: Bool true is 1 and false is
// 0, an Int is its value when it fits in 16 bits and 0 otherwise, and any
// other variant is 1.
func Coerce(r ir.Record) uint16 {
	switch v := r.(type) {
	case ir.Bool:
		if v {
			return 1
		}
		return 0
	case ir.Int:
		u, ok := v.Uint16()
		if !ok {
			return 0
		}
		return u
	default:
		return 1
	}
}
