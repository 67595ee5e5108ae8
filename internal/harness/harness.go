package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/roach88/tablesync/internal/compiler"
	"github.com/roach88/tablesync/internal/controller"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/facts"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/pipeline"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/testutil"
)

// DefaultTimeout bounds a whole scenario run.
var DefaultTimeout = 10 * time.Second

// DefaultBatchToken is the journal token used when a scenario sets none.
const DefaultBatchToken = "test-batch"

// Harness is the test execution engine for one scenario.
type Harness struct {
	scenario *Scenario
	engine   *engine.Program
	ctrl     *controller.Controller
	sw       *testutil.FakeSwitch
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	stream   *testutil.FakeStream // nil until the first digest step
	digestID uint32

	goldenDir    string
	updateGolden bool
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger for the controller and engine. By default logs
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithGoldenDir compares each run's trace and final state with
// {dir}/{scenario name}.golden. With update set the file is rewritten
// instead.
func WithGoldenDir(dir string, update bool) Option {
	return func(h *Harness) {
		h.goldenDir = dir
		h.updateGolden = update
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store and fake switch.
// Errors returned are setup failures (bad program, bad P4Info); behavior
// that deviates from the scenario is reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer h.ctrl.Stop(context.Background())

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.collectState(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	if h.goldenDir != "" {
		if err := checkGolden(h.goldenDir, h.updateGolden, scenario.Name, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	src, err := os.ReadFile(h.scenario.Program)
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}
	spec, err := compiler.CompileString(h.scenario.Program, string(src))
	if err != nil {
		return fmt.Errorf("failed to compile program: %w", err)
	}
	if errs := compiler.Validate(spec); len(errs) > 0 {
		return fmt.Errorf("invalid program: %w", errs[0])
	}

	info, err := pipeline.LoadP4Info(h.scenario.P4Info)
	if err != nil {
		return fmt.Errorf("failed to load p4info: %w", err)
	}
	h.pipeline, err = pipeline.FromP4Info(info)
	if err != nil {
		return fmt.Errorf("failed to resolve p4info: %w", err)
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}

	token := h.scenario.BatchToken
	if token == "" {
		token = DefaultBatchToken
	}
	h.engine, err = engine.Open(ctx, st, *spec,
		engine.WithTokens(testutil.NewFixedTokens(token)),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		st.Close()
		return err
	}

	h.sw = testutil.NewFakeSwitch(h.pipeline)
	opts := controller.Options{
		Logger:             h.logger,
		DeleteOnRetraction: h.scenario.DeleteOnRetraction,
	}
	h.digestID = p4rt.DefaultDigestConfig().DigestID
	if d := h.scenario.Digest; d != nil {
		opts.DigestName = d.Name
		opts.DigestBindings = d.Bindings
		if d.Name != "" {
			found, ok := h.pipeline.DigestByName(d.Name)
			if !ok {
				h.engine.Stop()
				return fmt.Errorf("unknown digest %q", d.Name)
			}
			h.digestID = found.ID
		}
	}
	h.ctrl = controller.New(h.engine, h.sw, opts)
	return nil
}

// executeStep runs one step and traces what it did. Only harness failures
// are returned; a submission error is traced and checked against
// ExpectError.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	before := len(h.sw.Writes())
	if step.FailWrite != "" {
		h.sw.FailNextWrite(errors.New(step.FailWrite))
	}

	var stepErr error
	if step.Digest != nil {
		if err := h.injectDigest(ctx, n, step.Digest, result); err != nil {
			return err
		}
	} else {
		batch, err := facts.Decode(step.Submit, h.engine.Relations())
		if err != nil {
			return err
		}
		for _, u := range batch {
			result.AddTrace(n, EventSubmit,
				fmt.Sprintf("%s %s %s", u.Kind, h.engine.RelationName(u.Relation), u.Value))
		}
		stepErr = h.ctrl.SubmitUpdates(ctx, batch)
	}

	for _, w := range h.sw.Writes()[before:] {
		result.AddTrace(n, EventWrite, w.String())
	}
	if stepErr != nil {
		result.AddTrace(n, EventError, stepErr.Error())
	}

	switch {
	case step.ExpectError == "" && stepErr != nil:
		result.AddError(fmt.Sprintf("step %d: unexpected error: %v", n, stepErr))
	case step.ExpectError != "" && stepErr == nil:
		result.AddError(fmt.Sprintf("step %d: expected error containing %q, got none", n, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(stepErr.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("step %d: expected error containing %q, got %q", n, step.ExpectError, stepErr))
	}
	return nil
}

// injectDigest sends one digest list and waits until its items are applied.
// The stream is started on first use.
func (h *Harness) injectDigest(ctx context.Context, n int, step *DigestStep, result *Result) error {
	if h.stream == nil {
		if err := h.ctrl.StartDigestStream(ctx); err != nil {
			return fmt.Errorf("start digest stream: %w", err)
		}
		stream, err := h.sw.NextStream(ctx)
		if err != nil {
			return fmt.Errorf("wait for digest stream: %w", err)
		}
		h.stream = stream
	}

	items := make([]*p4_v1.P4Data, len(step.Items))
	for i, members := range step.Items {
		data := make([]*p4_v1.P4Data, len(members))
		for j, m := range members {
			data[j] = testutil.Bits(m)
		}
		items[i] = testutil.Struct(data...)
	}

	listID := h.stream.InjectDigest(h.digestID, items...)
	for _, members := range step.Items {
		result.AddTrace(n, EventDigest, fmt.Sprintf("list=%d %v", listID, members))
	}

	if err := h.stream.WaitAck(ctx, listID); err != nil {
		return fmt.Errorf("wait for digest ack: %w", err)
	}
	return h.ctrl.Flush(ctx)
}

// collectState records the contents of every output relation.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	snapshot, err := h.engine.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read final state: %w", err)
	}

	for _, rel := range h.engine.Relations() {
		if rel.Role == ir.RoleOutput {
			result.State[rel.Name] = []string{}
		}
	}
	for _, rel := range snapshot.Relations() {
		name := h.engine.RelationName(rel)
		for _, c := range snapshot.Changes(rel) {
			result.State[name] = append(result.State[name], c.Value.String())
		}
		sort.Strings(result.State[name])
	}
	return nil
}
