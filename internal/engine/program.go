package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/store"
)

// Program is the engine facade: a compiled program bound to a fact store.
type Program struct {
	mu      sync.Mutex
	store   *store.Store
	rels    []ir.RelationSpec // indexed by RelID
	byName  map[string]ir.RelID
	rules   map[ir.RelID][]boundRule // by input relation, declaration order
	clock   *Clock
	tokens  TokenGenerator
	logger  *slog.Logger
	stopped bool
}

// boundRule is a RuleSpec with its relations resolved to ids.
type boundRule struct {
	ir.RuleSpec
	to ir.RelID
}

// Option configures a Program.
type Option func(*Program)

// WithTokens sets the batch token generator. Default: UUIDv7Generator.
func WithTokens(g TokenGenerator) Option {
	return func(p *Program) {
		p.tokens = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Program) {
		p.logger = l
	}
}

// Open binds a compiled program to a store. The program takes ownership of
// the store: Stop closes it. The clock resumes after the journal's last seq.
//
// Rules referencing undeclared relations, or reading or writing the wrong
// role, are rejected here; run compiler.Validate first for full diagnostics.
func Open(ctx context.Context, s *store.Store, spec ir.ProgramSpec, opts ...Option) (*Program, error) {
	p := &Program{
		store:  s,
		rels:   spec.Relations(),
		byName: make(map[string]ir.RelID),
		rules:  make(map[ir.RelID][]boundRule),
		tokens: UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i, rel := range p.rels {
		if _, dup := p.byName[rel.Name]; dup {
			return nil, fmt.Errorf("open program: duplicate relation %q", rel.Name)
		}
		p.byName[rel.Name] = ir.RelID(i)
	}

	for _, r := range spec.Rules {
		from, ok := p.byName[r.From]
		if !ok || p.rels[from].Role != ir.RoleInput {
			return nil, fmt.Errorf("open program: rule %q: %q is not an input relation", r.ID, r.From)
		}
		to, ok := p.byName[r.To]
		if !ok || p.rels[to].Role != ir.RoleOutput {
			return nil, fmt.Errorf("open program: rule %q: %q is not an output relation", r.ID, r.To)
		}
		p.rules[from] = append(p.rules[from], boundRule{RuleSpec: r, to: to})
	}

	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	p.clock = NewClockAt(last)

	return p, nil
}

// RelationID returns the id of a named relation.
func (p *Program) RelationID(name string) (ir.RelID, bool) {
	id, ok := p.byName[name]
	return id, ok
}

// RelationName returns the name of a relation for diagnostics. Unknown ids
// render as "relation#<id>".
func (p *Program) RelationName(id ir.RelID) string {
	if int(id) < len(p.rels) {
		return p.rels[id].Name
	}
	return fmt.Sprintf("relation#%d", id)
}

// Relations returns the program's relations; a relation's index is its id.
func (p *Program) Relations() []ir.RelationSpec {
	return append([]ir.RelationSpec(nil), p.rels...)
}

// Seq returns the seq of the last committed transaction.
func (p *Program) Seq() int64 {
	return p.clock.Current()
}

// Apply applies a batch of updates as one transaction and returns the
// resulting change set over output relations.
//
// On any failure the transaction is rolled back, nothing is journaled, and
// the returned error is an *Error.
func (p *Program) Apply(ctx context.Context, batch []ir.Update) (ir.Delta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, newError(ErrCodeUseAfterStop, -1, "", "program already stopped", nil)
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, newError(ErrCodeApplyFailed, -1, "", "begin transaction", err)
	}
	defer tx.Rollback() // No-op after Commit

	delta := ir.Delta{}
	entries := make([]store.JournalEntry, 0, len(batch))
	for i, u := range batch {
		entry, err := p.applyOne(ctx, tx, delta, i, u)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if len(batch) == 0 {
		return delta, nil
	}

	hash, err := ir.BatchHash(batch)
	if err != nil {
		return nil, newError(ErrCodeApplyFailed, -1, "", "hash batch", err)
	}

	seq := p.clock.Current() + 1
	token := p.tokens.Generate()
	err = tx.Journal(ctx, store.Transaction{
		Seq:       seq,
		Token:     token,
		BatchHash: hash,
		Entries:   entries,
		Changes:   delta.Len(),
	})
	if err != nil {
		return nil, newError(ErrCodeApplyFailed, -1, "", "journal transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, newError(ErrCodeCommitFailed, -1, "", "commit transaction", err)
	}
	p.clock.Next()

	p.logger.Debug("transaction committed",
		"seq", seq,
		"token", token,
		"updates", len(batch),
		"changes", delta.Len(),
	)

	return delta, nil
}

// applyOne applies a single update inside tx, accumulating output changes.
func (p *Program) applyOne(ctx context.Context, tx *store.Tx, delta ir.Delta, i int, u ir.Update) (store.JournalEntry, error) {
	if int(u.Relation) >= len(p.rels) {
		return store.JournalEntry{}, newError(ErrCodeUnknownRelation, i, p.RelationName(u.Relation), "relation not declared", nil)
	}
	rel := p.rels[u.Relation]
	if rel.Role != ir.RoleInput {
		return store.JournalEntry{}, newError(ErrCodeNotInput, i, rel.Name, "updates may only target input relations", nil)
	}

	fact, err := checkShape(rel, u.Value)
	if err != nil {
		return store.JournalEntry{}, newError(ErrCodeTypeMismatch, i, rel.Name, "fact shape", err)
	}

	key, err := ir.FactID(fact)
	if err != nil {
		return store.JournalEntry{}, newError(ErrCodeApplyFailed, i, rel.Name, "fact id", err)
	}

	count, err := tx.Count(ctx, rel.Name, key)
	if err != nil {
		return store.JournalEntry{}, newError(ErrCodeApplyFailed, i, rel.Name, "read fact", err)
	}

	var sign int64
	switch u.Kind {
	case ir.Insert:
		if count > 0 {
			break
		}
		sign = 1
	case ir.Delete:
		if count == 0 {
			break
		}
		sign = -1
	default:
		return store.JournalEntry{}, newError(ErrCodeApplyFailed, i, rel.Name, fmt.Sprintf("unknown update kind %s", u.Kind), nil)
	}

	entry := store.JournalEntry{Kind: u.Kind, Relation: rel.Name, Value: fact}
	if sign == 0 {
		// Set semantics: already present or already absent
		return entry, nil
	}

	if err := tx.SetCount(ctx, rel.Name, key, fact, count+sign); err != nil {
		return store.JournalEntry{}, newError(ErrCodeApplyFailed, i, rel.Name, "write fact", err)
	}

	for _, r := range p.rules[u.Relation] {
		if !matchWhere(r.Where, fact) {
			continue
		}
		if err := p.derive(ctx, tx, delta, r, fact, sign); err != nil {
			return store.JournalEntry{}, newError(ErrCodeTypeMismatch, i, p.rels[r.to].Name, fmt.Sprintf("rule %s", r.ID), err)
		}
	}

	return entry, nil
}

// derive adjusts the derivation count of a rule's output for one input fact
// and records presence transitions in delta.
func (p *Program) derive(ctx context.Context, tx *store.Tx, delta ir.Delta, r boundRule, fact ir.NamedStruct, sign int64) error {
	out, err := evalTemplate(r.Value, fact)
	if err != nil {
		return err
	}
	key, err := ir.FactID(out)
	if err != nil {
		return err
	}

	name := p.rels[r.to].Name
	before, err := tx.Count(ctx, name, key)
	if err != nil {
		return err
	}
	after := before + sign
	if err := tx.SetCount(ctx, name, key, out, after); err != nil {
		return err
	}

	switch {
	case before == 0 && after > 0:
		delta.Add(r.to, key, out, 1)
	case before > 0 && after <= 0:
		delta.Add(r.to, key, out, -1)
	}
	return nil
}

// Snapshot returns the current contents of every output relation as a Delta
// of +1 weights, suitable for pushing the full state to a fresh switch.
func (p *Program) Snapshot(ctx context.Context) (ir.Delta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, newError(ErrCodeUseAfterStop, -1, "", "program already stopped", nil)
	}

	delta := ir.Delta{}
	for id, rel := range p.rels {
		if rel.Role != ir.RoleOutput {
			continue
		}
		facts, err := p.store.ReadRelation(ctx, rel.Name)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel.Name, err)
		}
		for _, f := range facts {
			delta.Add(ir.RelID(id), f.ID, f.Value, 1)
		}
	}
	return delta, nil
}

// Stop releases the program and closes its store. It succeeds at most once;
// later calls, like later Apply calls, fail with USE_AFTER_STOP.
func (p *Program) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return newError(ErrCodeUseAfterStop, -1, "", "program already stopped", nil)
	}
	p.stopped = true

	if err := p.store.Close(); err != nil {
		return fmt.Errorf("stop program: %w", err)
	}
	p.logger.Debug("program stopped", "seq", p.clock.Current())
	return nil
}
