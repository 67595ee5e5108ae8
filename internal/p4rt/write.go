package p4rt

import (
	"context"
	"fmt"
	"sort"
	"time"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/pipeline"
)

// Write sends writes as one WriteRequest. Any failure, including a write
// that does not fit the pipeline, is returned as a *WriteError for the whole
// batch. An empty batch sends nothing.
func (c *Client) Write(ctx context.Context, pl *pipeline.Pipeline, writes []pipeline.TableWrite) error {
	if len(writes) == 0 {
		return nil
	}

	updates, err := EncodeWrites(pl, writes)
	if err != nil {
		return &WriteError{Count: len(writes), Err: err}
	}

	start := time.Now()
	_, err = c.rt.Write(ctx, &p4_v1.WriteRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Updates:    updates,
	})
	summaryWriteLatency.Observe(time.Since(start).Seconds())
	observe("Write", err)
	if err != nil {
		return &WriteError{Count: len(writes), Err: err}
	}

	for _, u := range updates {
		countTableUpdates.WithLabelValues(u.GetType().String()).Inc()
	}
	c.logger.Debug("table entries written", "device", c.deviceID, "count", len(updates))
	return nil
}

// EncodeWrites converts writes to P4Runtime table updates. Names are looked
// up exactly in pl; match fields are emitted in name order and params in
// the action's declared order.
func EncodeWrites(pl *pipeline.Pipeline, writes []pipeline.TableWrite) ([]*p4_v1.Update, error) {
	if pl == nil {
		return nil, fmt.Errorf("encode writes: no pipeline")
	}
	updates := make([]*p4_v1.Update, 0, len(writes))
	for i, w := range writes {
		entry, err := encodeEntry(pl, w)
		if err != nil {
			return nil, fmt.Errorf("write %d (%s): %w", i, w, err)
		}
		updates = append(updates, &p4_v1.Update{
			Type:   updateType(w.Kind),
			Entity: &p4_v1.Entity{Entity: &p4_v1.Entity_TableEntry{TableEntry: entry}},
		})
	}
	return updates, nil
}

func updateType(k ir.UpdateKind) p4_v1.Update_Type {
	if k == ir.Delete {
		return p4_v1.Update_DELETE
	}
	return p4_v1.Update_INSERT
}

func encodeEntry(pl *pipeline.Pipeline, w pipeline.TableWrite) (*p4_v1.TableEntry, error) {
	table, ok := pl.Table(w.Table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", w.Table)
	}

	var action pipeline.Action
	found := false
	for _, a := range table.Actions {
		if a.Name == w.Action {
			action, found = a, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("action %q not permitted in table %q", w.Action, w.Table)
	}

	entry := &p4_v1.TableEntry{TableId: table.ID, Priority: w.Priority}

	names := make([]string, 0, len(w.Match))
	for name := range w.Match {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mf, ok := table.MatchField(name)
		if !ok {
			return nil, fmt.Errorf("unknown match field %q", name)
		}
		fm, err := encodeMatch(mf, w.Match[name])
		if err != nil {
			return nil, err
		}
		entry.Match = append(entry.Match, fm)
	}

	act := &p4_v1.Action{ActionId: action.ID}
	for name := range w.Params {
		if _, ok := action.Param(name); !ok {
			return nil, fmt.Errorf("unknown param %q of action %q", name, action.Name)
		}
	}
	for _, p := range action.Params {
		v, ok := w.Params[p.Name]
		if !ok {
			return nil, fmt.Errorf("missing param %q of action %q", p.Name, action.Name)
		}
		act.Params = append(act.Params, &p4_v1.Action_Param{ParamId: p.ID, Value: EncodeValue(v)})
	}
	entry.Action = &p4_v1.TableAction{Type: &p4_v1.TableAction_Action{Action: act}}

	return entry, nil
}

// encodeMatch builds a field match that selects exactly v: ternary uses a
// full mask, lpm a full-length prefix, range the single value.
func encodeMatch(mf pipeline.MatchField, v uint16) (*p4_v1.FieldMatch, error) {
	value := EncodeValue(v)
	fm := &p4_v1.FieldMatch{FieldId: mf.ID}
	switch mf.Kind {
	case pipeline.MatchExact:
		fm.FieldMatchType = &p4_v1.FieldMatch_Exact_{Exact: &p4_v1.FieldMatch_Exact{Value: value}}
	case pipeline.MatchTernary:
		fm.FieldMatchType = &p4_v1.FieldMatch_Ternary_{Ternary: &p4_v1.FieldMatch_Ternary{
			Value: value,
			Mask:  fullMask(mf.Bitwidth),
		}}
	case pipeline.MatchLPM:
		fm.FieldMatchType = &p4_v1.FieldMatch_Lpm{Lpm: &p4_v1.FieldMatch_LPM{Value: value, PrefixLen: mf.Bitwidth}}
	case pipeline.MatchRange:
		fm.FieldMatchType = &p4_v1.FieldMatch_Range_{Range: &p4_v1.FieldMatch_Range{Low: value, High: value}}
	case pipeline.MatchOptional:
		fm.FieldMatchType = &p4_v1.FieldMatch_Optional_{Optional: &p4_v1.FieldMatch_Optional{Value: value}}
	default:
		return nil, fmt.Errorf("match field %q has unsupported match kind %s", mf.Name, mf.Kind)
	}
	return fm, nil
}

// EncodeValue returns the canonical P4Runtime byte string for v: big-endian
// with no leading zero bytes, zero encoded as a single zero byte.
func EncodeValue(v uint16) []byte {
	if v <= 0xff {
		return []byte{byte(v)}
	}
	return []byte{byte(v >> 8), byte(v)}
}

// fullMask returns a mask of bitwidth one bits in canonical form.
func fullMask(bitwidth int32) []byte {
	if bitwidth <= 0 {
		return []byte{0}
	}
	n := (bitwidth + 7) / 8
	mask := make([]byte, n)
	for i := range mask {
		mask[i] = 0xff
	}
	if rem := bitwidth % 8; rem != 0 {
		mask[0] = byte(1<<rem) - 1
	}
	return mask
}
