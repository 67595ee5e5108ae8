package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tablesync/internal/digest"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/pipeline"
	"github.com/roach88/tablesync/internal/translate"
)

// DefaultMailboxSize is the mailbox capacity when none is configured.
const DefaultMailboxSize = 8

// digestBuffer is the capacity of the channel from the digest child.
const digestBuffer = 10

// Engine is the transactional fact engine. *engine.Program implements it.
type Engine interface {
	Apply(ctx context.Context, batch []ir.Update) (ir.Delta, error)
	Stop() error
	RelationName(id ir.RelID) string
	Relations() []ir.RelationSpec
}

// Switch is the switch connection. *p4rt.Client implements it.
type Switch interface {
	Pipeline(ctx context.Context) (*pipeline.Pipeline, error)
	Write(ctx context.Context, pl *pipeline.Pipeline, writes []pipeline.TableWrite) error
	MasterArbitration(ctx context.Context) error
	ConfigureDigest(ctx context.Context, cfg p4rt.DigestConfig) error
	OpenStream(ctx context.Context) (p4rt.Stream, error)
	ArbitrationRequest() *p4_v1.StreamMessageRequest
}

// Options configures a Controller.
type Options struct {
	// MailboxSize bounds the mailbox. A full mailbox blocks senders.
	// Default: DefaultMailboxSize.
	MailboxSize int

	// Logger. Default: slog.Default().
	Logger *slog.Logger

	// DeleteOnRetraction is passed to the translator.
	DeleteOnRetraction bool

	// Digest is the digest generation config. A zero DigestID means
	// p4rt.DefaultDigestConfig().
	Digest p4rt.DigestConfig

	// DigestName, when set, selects the digest id from the pipeline by name
	// instead of Digest.DigestID.
	DigestName string

	// DigestBindings maps digest names to input relation names for the
	// default decoder.
	DigestBindings map[string]string

	// Decoder overrides the default P4Info decoder.
	Decoder digest.Decoder
}

type requestKind string

const (
	kindUpdate       requestKind = "update"
	kindStartDigest  requestKind = "start_digest"
	kindFlush        requestKind = "flush"
	kindDigestUpdate requestKind = "digest_update"
)

type request struct {
	kind  requestKind
	ctx   context.Context
	batch []ir.Update
	reply chan error // buffered, single use
}

// Controller is the control actor.
type Controller struct {
	engine     Engine
	sw         Switch
	translator *translate.Translator
	opts       Options
	logger     *slog.Logger

	mailbox  chan request
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{} // closed when the actor goroutine returns
	stopErr  error         // engine.Stop result, set before done closes

	// Actor-goroutine state.
	ctx          context.Context // cancelled on shutdown
	cancel       context.CancelFunc
	digests      <-chan ir.Update // nil while no stream is active
	group        *errgroup.Group
	cancelStream context.CancelFunc

	mu        sync.Mutex
	active    bool
	streamErr error
}

// New starts a control actor that owns eng and sw. The actor releases eng
// when stopped; sw stays with the caller.
func New(eng Engine, sw Switch, opts Options) *Controller {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Digest.DigestID == 0 {
		opts.Digest = p4rt.DefaultDigestConfig()
	}

	c := &Controller{
		engine: eng,
		sw:     sw,
		translator: translate.New(translate.Options{
			Logger:             opts.Logger,
			DeleteOnRetraction: opts.DeleteOnRetraction,
		}),
		opts:    opts,
		logger:  opts.Logger,
		mailbox: make(chan request, opts.MailboxSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.run()
	return c
}

// SubmitUpdates applies batch and writes the resulting table changes. It
// returns once the write completed or failed, with the first error: an
// *engine.Error, or a *p4rt.WriteError.
func (c *Controller) SubmitUpdates(ctx context.Context, batch []ir.Update) error {
	return c.call(ctx, request{kind: kindUpdate, ctx: ctx, batch: batch})
}

// StartDigestStream claims primary, configures digest generation and opens
// the digest stream. It returns once the stream is running; decoded digest
// facts are then applied in the background until the stream ends.
func (c *Controller) StartDigestStream(ctx context.Context) error {
	return c.call(ctx, request{kind: kindStartDigest, ctx: ctx})
}

// Flush returns once every digest update already received from the stream
// has been applied. Digest lists acknowledged before the call are fully
// processed when it returns.
func (c *Controller) Flush(ctx context.Context) error {
	return c.call(ctx, request{kind: kindFlush, ctx: ctx})
}

// DigestState reports whether a digest stream is running, and the error
// that ended the last one, if any.
func (c *Controller) DigestState() (active bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.streamErr
}

// Done is closed once the actor has stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Stop ends the actor: the digest stream is cancelled and awaited, then the
// engine is released. Requests still queued fail with ErrActorUnavailable.
// Stop is idempotent; every call returns the engine's release error.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.done:
		return c.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) call(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	if err := c.send(ctx, req); err != nil {
		return err
	}
	return c.await(ctx, req)
}

// send blocks until req is in the mailbox.
func (c *Controller) send(ctx context.Context, req request) error {
	select {
	case <-c.done:
		return ErrActorUnavailable
	default:
	}

	select {
	case c.mailbox <- req:
		gaugeMailboxDepth.Set(float64(len(c.mailbox)))
		return nil
	case <-c.done:
		return ErrActorUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for the reply to req.
func (c *Controller) await(ctx context.Context, req request) error {
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		// the reply may have been sent just before the actor ended
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrActorUnavailable
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor loop.
func (c *Controller) run() {
	defer close(c.done)
	c.logger.Info("controller starting", "mailbox", cap(c.mailbox))

	for {
		select {
		case <-c.stopCh:
			c.shutdown()
			return

		case req := <-c.mailbox:
			gaugeMailboxDepth.Set(float64(len(c.mailbox)))
			err := c.handle(req)
			countRequests.WithLabelValues(string(req.kind), result(err)).Inc()
			req.reply <- err

		case u, ok := <-c.digests:
			if !ok {
				c.endStream()
				continue
			}
			c.applyDigest(u)
		}
	}
}

// applyDigest runs the update path for one forwarded digest fact. Failures
// are logged; there is no caller to reply to.
func (c *Controller) applyDigest(u ir.Update) {
	err := c.process(c.ctx, []ir.Update{u})
	countRequests.WithLabelValues(string(kindDigestUpdate), result(err)).Inc()
	if err != nil {
		c.logger.Error("digest update failed", "value", u.Value.String(), "error", err)
	}
}

// drainDigests applies digest updates until none is buffered.
func (c *Controller) drainDigests() {
	for c.digests != nil {
		select {
		case u, ok := <-c.digests:
			if !ok {
				c.endStream()
				return
			}
			c.applyDigest(u)
		default:
			return
		}
	}
}

func (c *Controller) handle(req request) error {
	switch req.kind {
	case kindUpdate:
		return c.process(req.ctx, req.batch)
	case kindStartDigest:
		return c.startStream(req.ctx)
	case kindFlush:
		c.drainDigests()
		return nil
	default:
		return fmt.Errorf("controller: unknown request kind %q", req.kind)
	}
}

// process is the update path: apply, translate, write.
func (c *Controller) process(ctx context.Context, batch []ir.Update) error {
	delta, err := c.engine.Apply(ctx, batch)
	if err != nil {
		return err
	}
	engine.DumpDelta(c.logger, c.engine, delta)
	if delta.Len() == 0 {
		return nil
	}

	// Re-read on every translation: the pipeline may have been replaced.
	pl, err := c.sw.Pipeline(ctx)
	if err != nil {
		return &p4rt.WriteError{Count: delta.Len(), Err: fmt.Errorf("fetch pipeline: %w", err)}
	}

	writes, gaps := c.translator.Translate(delta, pl.Tables)
	if err := c.sw.Write(ctx, pl, writes); err != nil {
		return err
	}

	c.logger.Debug("batch processed",
		"updates", len(batch),
		"changes", delta.Len(),
		"writes", len(writes),
		"gaps", len(gaps),
	)
	return nil
}

func (c *Controller) startStream(ctx context.Context) error {
	if c.digests != nil {
		return ErrDigestActive
	}

	if err := c.sw.MasterArbitration(ctx); err != nil {
		return fmt.Errorf("start digest stream: %w", err)
	}

	pl, err := c.sw.Pipeline(ctx)
	if err != nil {
		return fmt.Errorf("start digest stream: %w", err)
	}

	cfg := c.opts.Digest
	if c.opts.DigestName != "" {
		d, ok := pl.DigestByName(c.opts.DigestName)
		if !ok {
			return fmt.Errorf("start digest stream: %w %q", digest.ErrUnknownDigest, c.opts.DigestName)
		}
		cfg.DigestID = d.ID
	}

	dec := c.opts.Decoder
	if dec == nil {
		dec, err = digest.NewP4InfoDecoder(pl, c.engine.Relations(), c.opts.DigestBindings)
		if err != nil {
			return fmt.Errorf("start digest stream: %w", err)
		}
	}

	if err := c.sw.ConfigureDigest(ctx, cfg); err != nil {
		return fmt.Errorf("start digest stream: %w", err)
	}

	// the stream primary was claimed on: digests are only delivered there
	streamCtx, cancel := context.WithCancel(c.ctx)
	stream, err := c.sw.OpenStream(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("start digest stream: %w", err)
	}

	out := make(chan ir.Update, digestBuffer)
	g, gctx := errgroup.WithContext(streamCtx)
	child := &digestActor{
		stream:      stream,
		decoder:     dec,
		arbitration: c.sw.ArbitrationRequest(),
		out:         out,
		logger:      c.logger.With("digest_id", cfg.DigestID),
	}
	g.Go(func() error { return child.run(gctx) })

	c.digests = out
	c.group = g
	c.cancelStream = cancel
	c.setStreamState(true, nil)

	c.logger.Info("digest stream started", "digest_id", cfg.DigestID)
	return nil
}

// endStream collects the child after it closed its channel.
func (c *Controller) endStream() {
	err := c.group.Wait()
	c.cancelStream()
	c.digests, c.group, c.cancelStream = nil, nil, nil
	c.setStreamState(false, err)

	if err != nil {
		c.logger.Error("digest stream ended", "error", err)
		return
	}
	c.logger.Info("digest stream ended")
}

func (c *Controller) setStreamState(active bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
	if !active {
		c.streamErr = err
	}
}

func (c *Controller) shutdown() {
	c.cancel()
	if c.group != nil {
		c.cancelStream()
		// the child selects on its context when forwarding, so it cannot
		// block on a full channel here
		if err := c.group.Wait(); err != nil {
			c.logger.Debug("digest stream error at shutdown", "error", err)
		}
		c.digests, c.group, c.cancelStream = nil, nil, nil
		c.setStreamState(false, nil)
	}

	c.stopErr = c.engine.Stop()
	c.logger.Info("controller stopped", "error", c.stopErr)
}
