package p4rt

import (
	"context"
	"io"
	"sync"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeRuntime records requests. Unimplemented RPCs panic through the nil
// embedded interface.
type fakeRuntime struct {
	p4_v1.P4RuntimeClient

	mu        sync.Mutex
	writes    []*p4_v1.WriteRequest
	writeErrs []error // consumed in order, nil when exhausted
	setReq    *p4_v1.SetForwardingPipelineConfigRequest
	getResp   *p4_v1.GetForwardingPipelineConfigResponse
	streams   []*fakeStream // handed out by StreamChannel, in order
	opened    []*fakeStream
	claims    map[uint64]*fakeStream
}

func (f *fakeRuntime) Write(_ context.Context, req *p4_v1.WriteRequest, _ ...grpc.CallOption) (*p4_v1.WriteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, req)
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &p4_v1.WriteResponse{}, nil
}

func (f *fakeRuntime) SetForwardingPipelineConfig(_ context.Context, req *p4_v1.SetForwardingPipelineConfigRequest, _ ...grpc.CallOption) (*p4_v1.SetForwardingPipelineConfigResponse, error) {
	f.setReq = req
	return &p4_v1.SetForwardingPipelineConfigResponse{}, nil
}

func (f *fakeRuntime) GetForwardingPipelineConfig(context.Context, *p4_v1.GetForwardingPipelineConfigRequest, ...grpc.CallOption) (*p4_v1.GetForwardingPipelineConfigResponse, error) {
	return f.getResp, nil
}

// StreamChannel hands out the next queued stream, or a fresh one. Like a
// conformant switch, an election id is accepted on one open stream only; a
// claim on another stream ends that stream with ALREADY_EXISTS.
func (f *fakeRuntime) StreamChannel(ctx context.Context, _ ...grpc.CallOption) (p4_v1.P4Runtime_StreamChannelClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *fakeStream
	if len(f.streams) > 0 {
		s, f.streams = f.streams[0], f.streams[1:]
	} else {
		s = newFakeStream()
	}
	s.rt, s.ctx = f, ctx
	f.opened = append(f.opened, s)
	return s, nil
}

// claim records that s holds election; false when another open stream does.
func (f *fakeRuntime) claim(s *fakeStream, election uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claims == nil {
		f.claims = map[uint64]*fakeStream{}
	}
	if holder, ok := f.claims[election]; ok && holder != s && !holder.isClosed() {
		return false
	}
	f.claims[election] = s
	return true
}

func (f *fakeRuntime) openedStreams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.opened...)
}

// fakeStream replays queued responses in order.
type fakeStream struct {
	grpc.ClientStream

	rt  *fakeRuntime
	ctx context.Context

	sent      chan *p4_v1.StreamMessageRequest
	responses chan *p4_v1.StreamMessageResponse

	failOnce sync.Once
	failed   chan struct{}
	failErr  error

	mu     sync.Mutex
	closed bool
}

func newFakeStream(responses ...*p4_v1.StreamMessageResponse) *fakeStream {
	s := &fakeStream{
		ctx:       context.Background(),
		sent:      make(chan *p4_v1.StreamMessageRequest, 16),
		responses: make(chan *p4_v1.StreamMessageResponse, 16),
		failed:    make(chan struct{}),
	}
	for _, r := range responses {
		s.responses <- r
	}
	return s
}

func (s *fakeStream) Send(req *p4_v1.StreamMessageRequest) error {
	if arb := req.GetArbitration(); arb != nil && s.rt != nil {
		if !s.rt.claim(s, arb.GetElectionId().GetLow()) {
			s.fail(status.Error(codes.AlreadyExists, "election id in use on another stream"))
		}
	}
	s.sent <- req
	return nil
}

func (s *fakeStream) Recv() (*p4_v1.StreamMessageResponse, error) {
	select {
	case <-s.failed:
		return nil, s.failErr
	default:
	}
	select {
	case r, ok := <-s.responses:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	case <-s.failed:
		return nil, s.failErr
	case <-s.ctx.Done():
		return nil, status.FromContextError(s.ctx.Err()).Err()
	}
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.ctx.Err() != nil
}

func (s *fakeStream) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.failed)
	})
}
