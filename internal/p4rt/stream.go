package p4rt

import (
	"context"
	"fmt"
	"sync"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Stream is the client half of a StreamChannel.
type Stream interface {
	Send(*p4_v1.StreamMessageRequest) error
	Recv() (*p4_v1.StreamMessageResponse, error)
	CloseSend() error
}

// sessionBuffer is how many non-arbitration messages the reader holds before
// it waits for the stream's owner.
const sessionBuffer = 64

// session is the StreamChannel that primary status is claimed on. The switch
// accepts an election id on one stream only, so arbitration and digests
// share it. One reader goroutine owns Recv: arbitration updates go to arb,
// everything else to msgs.
type session struct {
	stream p4_v1.P4Runtime_StreamChannelClient
	ctx    context.Context
	cancel context.CancelFunc

	arb  chan *p4_v1.MasterArbitrationUpdate // latest only
	msgs chan *p4_v1.StreamMessageResponse
	done chan struct{}
	err  error // set before done is closed

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (s *session) read() {
	defer close(s.done)
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			s.err = err
			return
		}
		if arb := resp.GetArbitration(); arb != nil {
			// only this goroutine sends, so after the drain there is room
			select {
			case <-s.arb:
			default:
			}
			s.arb <- arb
			continue
		}
		select {
		case s.msgs <- resp:
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return
		}
	}
}

func (s *session) send(req *p4_v1.StreamMessageRequest) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(req)
}

func (s *session) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		err = s.stream.CloseSend()
		s.sendMu.Unlock()
		s.cancel()
	})
	return err
}

func (s *session) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// primary returns the live session, opening one if needed.
func (c *Client) primary() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && !c.session.ended() && c.session.ctx.Err() == nil {
		return c.session, nil
	}
	if c.session != nil {
		_ = c.session.close()
		c.session = nil
	}

	ctx, cancel := context.WithCancel(c.streamCtx)
	st, err := c.rt.StreamChannel(ctx)
	observe("StreamChannel", err)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	s := &session{
		stream: st,
		ctx:    ctx,
		cancel: cancel,
		arb:    make(chan *p4_v1.MasterArbitrationUpdate, 1),
		msgs:   make(chan *p4_v1.StreamMessageResponse, sessionBuffer),
		done:   make(chan struct{}),
	}
	go s.read()
	c.session = s
	return s, nil
}

// endSession closes s and forgets it, so the next call opens a fresh one.
func (c *Client) endSession(s *session) error {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	return s.close()
}

// OpenStream hands out the primary session, opening it when no arbitration
// has run yet. Recv yields every message except arbitration updates, which
// MasterArbitration consumes. Recv fails with ctx's error once ctx is done.
// CloseSend ends the session and with it primary status.
func (c *Client) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.primary()
	if err != nil {
		return nil, err
	}
	return &sessionStream{client: c, s: s, ctx: ctx}, nil
}

type sessionStream struct {
	client *Client
	s      *session
	ctx    context.Context
}

func (v *sessionStream) Send(req *p4_v1.StreamMessageRequest) error {
	return v.s.send(req)
}

func (v *sessionStream) Recv() (*p4_v1.StreamMessageResponse, error) {
	select {
	case r := <-v.s.msgs:
		return r, nil
	case <-v.s.done:
		select {
		case r := <-v.s.msgs:
			return r, nil
		default:
		}
		return nil, v.s.err
	case <-v.ctx.Done():
		return nil, v.ctx.Err()
	}
}

func (v *sessionStream) CloseSend() error {
	return v.client.endSession(v.s)
}

// ArbitrationRequest returns the arbitration update that claims primary for
// this client's device and election id.
func (c *Client) ArbitrationRequest() *p4_v1.StreamMessageRequest {
	return &p4_v1.StreamMessageRequest{
		Update: &p4_v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4_v1.MasterArbitrationUpdate{
				DeviceId:   c.deviceID,
				ElectionId: c.electionID,
			},
		},
	}
}

// DigestAck acknowledges one digest list.
func DigestAck(digestID uint32, listID uint64) *p4_v1.StreamMessageRequest {
	return &p4_v1.StreamMessageRequest{
		Update: &p4_v1.StreamMessageRequest_DigestAck{
			DigestAck: &p4_v1.DigestListAck{DigestId: digestID, ListId: listID},
		},
	}
}

// MasterArbitration claims primary on the session stream, which stays open
// since the switch drops primary status when it closes. Calling it again
// re-sends the claim on the same stream. A call that gives up on ctx leaves
// the session usable for the next one.
//
// Returns ErrNotPrimary when the switch answers with a non-OK status.
func (c *Client) MasterArbitration(ctx context.Context) error {
	s, err := c.primary()
	if err != nil {
		return fmt.Errorf("master arbitration: %w", err)
	}

	// drop an answer to an earlier claim that nobody waited for
	select {
	case <-s.arb:
	default:
	}

	if err := s.send(c.ArbitrationRequest()); err != nil {
		_ = c.endSession(s)
		return fmt.Errorf("master arbitration: send: %w", err)
	}

	var arb *p4_v1.MasterArbitrationUpdate
	select {
	case <-ctx.Done():
		return fmt.Errorf("master arbitration: %w", ctx.Err())
	case arb = <-s.arb:
	case <-s.done:
		select {
		case arb = <-s.arb:
		default:
			_ = c.endSession(s)
			return fmt.Errorf("master arbitration: receive: %w", s.err)
		}
	}

	if code := codes.Code(arb.GetStatus().GetCode()); code != codes.OK {
		c.logger.Warn("not primary",
			"device", c.deviceID,
			"election_id", c.electionID.GetLow(),
			"primary_election_id", arb.GetElectionId().GetLow(),
		)
		return fmt.Errorf("%w: %s", ErrNotPrimary, status.FromProto(arb.GetStatus()).Message())
	}
	c.logger.Info("primary established", "device", c.deviceID, "election_id", c.electionID.GetLow())
	return nil
}

// DigestConfig is the generation config of one digest.
type DigestConfig struct {
	DigestID     uint32
	MaxTimeoutNs int64
	MaxListSize  int32
	AckTimeoutNs int64
}

// DefaultDigestConfig returns a config that delivers every digest as its
// own list, immediately.
func DefaultDigestConfig() DigestConfig {
	return DigestConfig{
		DigestID:     399590470,
		MaxTimeoutNs: 0,
		MaxListSize:  1,
		AckTimeoutNs: 1,
	}
}

// ConfigureDigest enables digest generation with cfg. An already configured
// digest is modified instead.
func (c *Client) ConfigureDigest(ctx context.Context, cfg DigestConfig) error {
	entry := &p4_v1.Entity{Entity: &p4_v1.Entity_DigestEntry{DigestEntry: &p4_v1.DigestEntry{
		DigestId: cfg.DigestID,
		Config: &p4_v1.DigestEntry_Config{
			MaxTimeoutNs: cfg.MaxTimeoutNs,
			MaxListSize:  cfg.MaxListSize,
			AckTimeoutNs: cfg.AckTimeoutNs,
		},
	}}}

	write := func(t p4_v1.Update_Type) error {
		_, err := c.rt.Write(ctx, &p4_v1.WriteRequest{
			DeviceId:   c.deviceID,
			ElectionId: c.electionID,
			Updates:    []*p4_v1.Update{{Type: t, Entity: entry}},
		})
		observe("Write", err)
		return err
	}

	err := write(p4_v1.Update_INSERT)
	if status.Code(err) == codes.AlreadyExists {
		err = write(p4_v1.Update_MODIFY)
	}
	if err != nil {
		return fmt.Errorf("configure digest %d: %w", cfg.DigestID, err)
	}
	c.logger.Info("digest configured",
		"digest_id", cfg.DigestID,
		"max_timeout_ns", cfg.MaxTimeoutNs,
		"max_list_size", cfg.MaxListSize,
		"ack_timeout_ns", cfg.AckTimeoutNs,
	)
	return nil
}
