package testutil

import (
	"context"
	"errors"
	"sync"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/pipeline"
)

// FakeSwitch is an in-memory switch connection for controller tests. Writes
// are encoded with p4rt.EncodeWrites, so a batch the real client would
// reject is rejected here too.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeSwitch struct {
	mu            sync.Mutex
	pipeline      *pipeline.Pipeline
	batches       [][]pipeline.TableWrite
	writeErrs     []error
	arbitrations  int
	arbErr        error
	digestConfigs []p4rt.DigestConfig
	lists         *DeterministicClock
	streams       chan *FakeStream
}

// NewFakeSwitch creates a switch with pl installed. pl may be nil.
func NewFakeSwitch(pl *pipeline.Pipeline) *FakeSwitch {
	return &FakeSwitch{
		pipeline: pl,
		lists:    NewDeterministicClock(),
		streams:  make(chan *FakeStream, 8),
	}
}

// Pipeline returns the installed pipeline.
func (s *FakeSwitch) Pipeline(context.Context) (*pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline == nil {
		return nil, errors.New("no pipeline installed")
	}
	return s.pipeline, nil
}

// SetPipeline replaces the installed pipeline.
func (s *FakeSwitch) SetPipeline(pl *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = pl
}

// Write records a non-empty batch, or fails it with a queued error.
func (s *FakeSwitch) Write(_ context.Context, pl *pipeline.Pipeline, writes []pipeline.TableWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if _, err := p4rt.EncodeWrites(pl, writes); err != nil {
		return &p4rt.WriteError{Count: len(writes), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		return &p4rt.WriteError{Count: len(writes), Err: err}
	}
	s.batches = append(s.batches, append([]pipeline.TableWrite(nil), writes...))
	return nil
}

// FailNextWrite makes the next write batch fail with err.
func (s *FakeSwitch) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrs = append(s.writeErrs, err)
}

// Batches returns the recorded write batches in order.
func (s *FakeSwitch) Batches() [][]pipeline.TableWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]pipeline.TableWrite(nil), s.batches...)
}

// Writes returns all recorded writes, flattened.
func (s *FakeSwitch) Writes() []pipeline.TableWrite {
	var all []pipeline.TableWrite
	for _, b := range s.Batches() {
		all = append(all, b...)
	}
	return all
}

// MasterArbitration counts the claim and returns the configured error.
func (s *FakeSwitch) MasterArbitration(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrations++
	return s.arbErr
}

// SetArbitrationError makes later arbitrations fail with err.
func (s *FakeSwitch) SetArbitrationError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbErr = err
}

// Arbitrations returns how many times primary was claimed.
func (s *FakeSwitch) Arbitrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arbitrations
}

// ConfigureDigest records cfg.
func (s *FakeSwitch) ConfigureDigest(_ context.Context, cfg p4rt.DigestConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digestConfigs = append(s.digestConfigs, cfg)
	return nil
}

// DigestConfigs returns the recorded digest configs.
func (s *FakeSwitch) DigestConfigs() []p4rt.DigestConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]p4rt.DigestConfig(nil), s.digestConfigs...)
}

// OpenStream creates a FakeStream bound to ctx. List ids continue across
// streams. Streams nobody waits for beyond the first few are not announced.
func (s *FakeSwitch) OpenStream(ctx context.Context) (p4rt.Stream, error) {
	st := NewFakeStream(ctx, s.lists)
	select {
	case s.streams <- st:
	default:
	}
	return st, nil
}

// NextStream waits for the next stream to be opened.
func (s *FakeSwitch) NextStream(ctx context.Context) (*FakeStream, error) {
	select {
	case st := <-s.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ArbitrationRequest returns an arbitration update for device 0.
func (s *FakeSwitch) ArbitrationRequest() *p4_v1.StreamMessageRequest {
	return &p4_v1.StreamMessageRequest{Update: &p4_v1.StreamMessageRequest_Arbitration{
		Arbitration: &p4_v1.MasterArbitrationUpdate{ElectionId: &p4_v1.Uint128{Low: p4rt.DefaultElectionID}},
	}}
}
