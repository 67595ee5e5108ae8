package testutil

import (
	"context"
	"io"
	"sync"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// FakeStream is an in-memory p4rt.Stream. Tests inject responses and read
// back what the client sent. Recv drains injected responses before it
// reports the end of the stream.
type FakeStream struct {
	ctx      context.Context
	lists    *DeterministicClock
	incoming chan *p4_v1.StreamMessageResponse
	acks     chan *p4_v1.DigestListAck

	closeOnce sync.Once
	closed    chan struct{}
	recvErr   error // returned after close instead of io.EOF

	mu   sync.Mutex
	sent []*p4_v1.StreamMessageRequest
}

// NewFakeStream creates a stream that ends when ctx is done.
func NewFakeStream(ctx context.Context, lists *DeterministicClock) *FakeStream {
	if lists == nil {
		lists = NewDeterministicClock()
	}
	return &FakeStream{
		ctx:      ctx,
		lists:    lists,
		incoming: make(chan *p4_v1.StreamMessageResponse, 64),
		acks:     make(chan *p4_v1.DigestListAck, 64),
		closed:   make(chan struct{}),
	}
}

// Send records req.
func (s *FakeStream) Send(req *p4_v1.StreamMessageRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	if ack := req.GetDigestAck(); ack != nil {
		select {
		case s.acks <- ack:
		default:
		}
	}
	return nil
}

// Recv returns the next injected response.
func (s *FakeStream) Recv() (*p4_v1.StreamMessageResponse, error) {
	select {
	case r := <-s.incoming:
		return r, nil
	default:
	}

	select {
	case r := <-s.incoming:
		return r, nil
	case <-s.closed:
		select {
		case r := <-s.incoming:
			return r, nil
		default:
		}
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// CloseSend is a no-op.
func (s *FakeStream) CloseSend() error {
	return nil
}

// Inject queues a response.
func (s *FakeStream) Inject(resp *p4_v1.StreamMessageResponse) {
	s.incoming <- resp
}

// InjectDigest queues a digest list and returns its list id.
func (s *FakeStream) InjectDigest(digestID uint32, items ...*p4_v1.P4Data) uint64 {
	listID := s.lists.Next()
	s.Inject(&p4_v1.StreamMessageResponse{Update: &p4_v1.StreamMessageResponse_Digest{
		Digest: &p4_v1.DigestList{DigestId: digestID, ListId: listID, Data: items},
	}})
	return listID
}

// Close ends the stream with io.EOF once injected responses are drained.
func (s *FakeStream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Fail ends the stream with err.
func (s *FakeStream) Fail(err error) {
	s.closeOnce.Do(func() {
		s.recvErr = err
		close(s.closed)
	})
}

// Sent returns a copy of the requests sent so far.
func (s *FakeStream) Sent() []*p4_v1.StreamMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*p4_v1.StreamMessageRequest(nil), s.sent...)
}

// WaitAck blocks until listID is acknowledged.
func (s *FakeStream) WaitAck(ctx context.Context, listID uint64) error {
	for {
		select {
		case ack := <-s.acks:
			if ack.GetListId() == listID {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bits encodes v as a canonical bitstring.
func Bits(v uint64) *p4_v1.P4Data {
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	return &p4_v1.P4Data{Data: &p4_v1.P4Data_Bitstring{Bitstring: b}}
}

// Struct wraps members as a P4 struct.
func Struct(members ...*p4_v1.P4Data) *p4_v1.P4Data {
	return &p4_v1.P4Data{Data: &p4_v1.P4Data_Struct{Struct: &p4_v1.P4StructLike{Members: members}}}
}
