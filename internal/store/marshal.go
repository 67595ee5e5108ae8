package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tablesync/internal/ir"
)

// journalRecord is the stored form of one JournalEntry.
type journalRecord struct {
	Kind     string          `json:"kind"`
	Relation string          `json:"relation"`
	Value    json.RawMessage `json:"value"`
}

// marshalValue converts a Record to canonical JSON TEXT for storage.
func marshalValue(v ir.Record) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (ir.Record, error) {
	v, err := ir.UnmarshalCanonical([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// marshalEntries encodes journal entries as a JSON array. Values are embedded
// as canonical JSON; HTML escaping stays off so they are stored verbatim.
func marshalEntries(entries []JournalEntry) (string, error) {
	records := make([]journalRecord, len(entries))
	for i, e := range entries {
		v, err := ir.MarshalCanonical(e.Value)
		if err != nil {
			return "", fmt.Errorf("marshal entry %d: %w", i, err)
		}
		records[i] = journalRecord{Kind: e.Kind.String(), Relation: e.Relation, Value: v}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("marshal entries: %w", err)
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalEntries(data string) ([]JournalEntry, error) {
	var records []journalRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}

	entries := make([]JournalEntry, len(records))
	for i, r := range records {
		kind, err := parseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("unmarshal entry %d: %w", i, err)
		}
		v, err := ir.UnmarshalCanonical(r.Value)
		if err != nil {
			return nil, fmt.Errorf("unmarshal entry %d: %w", i, err)
		}
		entries[i] = JournalEntry{Kind: kind, Relation: r.Relation, Value: v}
	}
	return entries, nil
}

func parseKind(s string) (ir.UpdateKind, error) {
	switch s {
	case ir.Insert.String():
		return ir.Insert, nil
	case ir.Delete.String():
		return ir.Delete, nil
	default:
		return 0, fmt.Errorf("unknown update kind %q", s)
	}
}
