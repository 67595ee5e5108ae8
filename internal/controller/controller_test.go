package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/compiler"
	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/pipeline"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/testutil"
)

const l2Program = `
input: Learned: {fields: ["mac", "port"]}
input: Blocked: {fields: ["mac", "vlan"]}

output: Dmac: {type: "Ingress.dmac"}
output: Acl: {type: "Ingress.acl"}
output: Mirror: {type: "Ingress.Mirror"}

rule: fwd: {
	from: "Learned"
	to:   "Dmac"
	value: {
		"$type": "Ingress.dmac"
		dst:     "$mac"
		action: {"$type": "Ingress.set_port", port: "$port"}
	}
}

rule: block: {
	from: "Blocked"
	to:   "Acl"
	value: {
		"$type":  "Ingress.acl"
		src:      "$mac"
		vlan:     "$vlan"
		priority: 10
		action: {"$type": "Ingress.drop"}
	}
}

rule: mirror: {
	from:  "Learned"
	to:    "Mirror"
	where: {port: 9}
	value: {"$type": "Ingress.Mirror", mac: "$mac"}
}
`

const (
	relLearned ir.RelID = iota
	relBlocked
	relDmac
)

const learnDigestID = 399590470

var testTimeout = 5 * time.Second

// gatedEngine wraps a Program. When gate is set, Apply blocks until
// released; Stop calls are counted.
type gatedEngine struct {
	*engine.Program
	entered chan struct{}
	release chan struct{}
	stops   atomic.Int32
}

func (g *gatedEngine) Apply(ctx context.Context, batch []ir.Update) (ir.Delta, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Program.Apply(ctx, batch)
}

func (g *gatedEngine) Stop() error {
	g.stops.Add(1)
	return g.Program.Stop()
}

func (g *gatedEngine) gate() {
	g.entered = make(chan struct{}, 16)
	g.release = make(chan struct{})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func l2Pipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	data, err := os.ReadFile("../pipeline/testdata/l2.p4info.txt")
	require.NoError(t, err)
	info, err := pipeline.ParseP4Info(data)
	require.NoError(t, err)
	pl, err := pipeline.FromP4Info(info)
	require.NoError(t, err)
	return pl
}

func newEngine(t *testing.T) *gatedEngine {
	t.Helper()
	spec, err := compiler.CompileString("l2.cue", l2Program)
	require.NoError(t, err)
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	p, err := engine.Open(context.Background(), s, *spec,
		engine.WithTokens(testutil.NewFixedTokens("")),
		engine.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return &gatedEngine{Program: p}
}

func setup(t *testing.T, opts Options) (*Controller, *gatedEngine, *testutil.FakeSwitch) {
	t.Helper()
	eng := newEngine(t)
	sw := testutil.NewFakeSwitch(l2Pipeline(t))
	opts.Logger = quietLogger()
	c := New(eng, sw, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c, eng, sw
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func learned(mac, port int64) ir.Update {
	return ir.InsertOf(relLearned, ir.Struct("Learned", ir.F("mac", ir.NewInt(mac)), ir.F("port", ir.NewInt(port))))
}

func TestSubmitUpdates_WritesTranslatedDelta(t *testing.T) {
	c, _, sw := setup(t, Options{})
	ctx := testCtx(t)

	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)}))

	batches := sw.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "insert ingress.dmac(dst=5) -> ingress.set_port(port=3) prio=0", batches[0][0].String())
}

func TestSubmitUpdates_OneBatchPerRequest(t *testing.T) {
	c, _, sw := setup(t, Options{})
	ctx := testCtx(t)

	block := ir.InsertOf(relBlocked, ir.Struct("Blocked", ir.F("mac", ir.NewInt(9)), ir.F("vlan", ir.NewInt(10))))
	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{learned(1, 2), block}))

	batches := sw.Batches()
	require.Len(t, batches, 1)
	var got []string
	for _, w := range batches[0] {
		got = append(got, w.String())
	}
	assert.Equal(t, []string{
		"insert ingress.dmac(dst=1) -> ingress.set_port(port=2) prio=0",
		"insert ingress.acl(src=9, vlan=10) -> ingress.drop() prio=10",
	}, got)
}

func TestSubmitUpdates_UntranslatableFactIsNotAnError(t *testing.T) {
	c, _, sw := setup(t, Options{})

	// port 9 also derives a Mirror fact, which matches no table
	require.NoError(t, c.SubmitUpdates(testCtx(t), []ir.Update{learned(4, 9)}))

	writes := sw.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "ingress.dmac", writes[0].Table)
}

func TestSubmitUpdates_NoOpBatchWritesNothing(t *testing.T) {
	c, _, sw := setup(t, Options{})
	ctx := testCtx(t)

	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)}))
	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)}))

	assert.Len(t, sw.Batches(), 1, "a duplicate insert produces an empty delta")
}

func TestSubmitUpdates_EngineError(t *testing.T) {
	c, eng, sw := setup(t, Options{})
	ctx := testCtx(t)

	bad := ir.InsertOf(relDmac, ir.Struct("Ingress.dmac"))
	err := c.SubmitUpdates(ctx, []ir.Update{learned(5, 3), bad})
	require.Error(t, err)
	assert.True(t, engine.IsEngineError(err))
	assert.Equal(t, engine.ErrCodeNotInput, engine.CodeOf(err))

	assert.Empty(t, sw.Batches())
	snap, err := eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len(), "rolled back batch leaves no state")
}

func TestSubmitUpdates_WriteError(t *testing.T) {
	c, _, sw := setup(t, Options{})
	sw.FailNextWrite(errors.New("table full"))

	err := c.SubmitUpdates(testCtx(t), []ir.Update{learned(5, 3)})
	require.Error(t, err)
	assert.True(t, p4rt.IsWriteError(err))
	assert.ErrorContains(t, err, "table full")
}

func TestSubmitUpdates_PipelineMissing(t *testing.T) {
	c, _, sw := setup(t, Options{})
	sw.SetPipeline(nil)

	err := c.SubmitUpdates(testCtx(t), []ir.Update{learned(5, 3)})
	assert.True(t, p4rt.IsWriteError(err))
}

func TestSubmitUpdates_DeleteOnRetraction(t *testing.T) {
	c, _, sw := setup(t, Options{DeleteOnRetraction: true})
	ctx := testCtx(t)

	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)}))
	del := learned(5, 3)
	del.Kind = ir.Delete
	require.NoError(t, c.SubmitUpdates(ctx, []ir.Update{del}))

	writes := sw.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, ir.Insert, writes[0].Kind)
	assert.Equal(t, ir.Delete, writes[1].Kind)
}

func TestMailbox_FIFO(t *testing.T) {
	c, _, sw := setup(t, Options{})
	ctx := testCtx(t)

	var reqs []request
	for i := int64(1); i <= 6; i++ {
		req := request{kind: kindUpdate, ctx: ctx, batch: []ir.Update{learned(i, 1+i)}, reply: make(chan error, 1)}
		require.NoError(t, c.send(ctx, req))
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		require.NoError(t, c.await(ctx, req))
	}

	batches := sw.Batches()
	require.Len(t, batches, 6)
	for i, b := range batches {
		assert.Equal(t, uint16(i+1), b[0].Match["dst"], "batch %d out of order", i)
	}
}

func TestSubmitUpdates_CallerContextBoundsWait(t *testing.T) {
	c, eng, _ := setup(t, Options{})
	eng.gate()
	defer close(eng.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStop_ReleasesEngineOnce(t *testing.T) {
	c, eng, _ := setup(t, Options{})
	ctx := testCtx(t)

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, int32(1), eng.stops.Load())

	err := c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)})
	assert.ErrorIs(t, err, ErrActorUnavailable)
	err = c.StartDigestStream(ctx)
	assert.ErrorIs(t, err, ErrActorUnavailable)
}

func TestAwait_ActorEndedWithoutReply(t *testing.T) {
	c, _, _ := setup(t, Options{})
	ctx := testCtx(t)
	require.NoError(t, c.Stop(ctx))

	orphan := request{kind: kindUpdate, reply: make(chan error, 1)}
	assert.ErrorIs(t, c.await(ctx, orphan), ErrActorUnavailable)
}

func TestStop_WhileApplyInFlight(t *testing.T) {
	c, eng, _ := setup(t, Options{})
	eng.gate()
	ctx := testCtx(t)

	errc := make(chan error, 1)
	go func() { errc <- c.SubmitUpdates(ctx, []ir.Update{learned(5, 3)}) }()
	<-eng.entered

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(ctx) }()
	close(eng.release)

	require.NoError(t, <-errc, "the in-flight request completes")
	require.NoError(t, <-stopped)
	assert.Equal(t, int32(1), eng.stops.Load())
}

func startStream(t *testing.T, c *Controller, sw *testutil.FakeSwitch) *testutil.FakeStream {
	t.Helper()
	ctx := testCtx(t)
	require.NoError(t, c.StartDigestStream(ctx))
	st, err := sw.NextStream(ctx)
	require.NoError(t, err)
	return st
}

func TestStartDigestStream_Setup(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	assert.Equal(t, 1, sw.Arbitrations())
	assert.Equal(t, []p4rt.DigestConfig{p4rt.DefaultDigestConfig()}, sw.DigestConfigs())

	active, err := c.DigestState()
	assert.True(t, active)
	assert.NoError(t, err)

	// the child handshakes before it receives anything
	listID := st.InjectDigest(learnDigestID, testutil.Struct(testutil.Bits(1), testutil.Bits(2)))
	require.NoError(t, st.WaitAck(testCtx(t), listID))
	sent := st.Sent()
	require.NotEmpty(t, sent)
	assert.NotNil(t, sent[0].GetArbitration())
}

func TestStartDigestStream_ByName(t *testing.T) {
	c, _, sw := setup(t, Options{
		DigestName: "learn_t",
		Digest:     p4rt.DigestConfig{DigestID: 1, MaxListSize: 4},
		DigestBindings: map[string]string{
			"learn_t": "Learned",
		},
	})
	startStream(t, c, sw)

	cfgs := sw.DigestConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, uint32(learnDigestID), cfgs[0].DigestID)
	assert.Equal(t, int32(4), cfgs[0].MaxListSize)
}

func TestStartDigestStream_AlreadyActive(t *testing.T) {
	c, _, sw := setup(t, Options{})
	startStream(t, c, sw)

	assert.ErrorIs(t, c.StartDigestStream(testCtx(t)), ErrDigestActive)
}

func TestStartDigestStream_ArbitrationFails(t *testing.T) {
	c, _, sw := setup(t, Options{})
	sw.SetArbitrationError(p4rt.ErrNotPrimary)

	err := c.StartDigestStream(testCtx(t))
	assert.ErrorIs(t, err, p4rt.ErrNotPrimary)
	assert.Empty(t, sw.DigestConfigs())

	active, _ := c.DigestState()
	assert.False(t, active)
}

func TestDigest_EachItemIsOwnBatch(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	listID := st.InjectDigest(learnDigestID,
		testutil.Struct(testutil.Bits(5), testutil.Bits(3)),
		testutil.Struct(testutil.Bits(6), testutil.Bits(4)),
	)
	require.NoError(t, st.WaitAck(testCtx(t), listID))

	require.Eventually(t, func() bool { return len(sw.Batches()) == 2 }, testTimeout, 5*time.Millisecond)
	batches := sw.Batches()
	assert.Equal(t, "insert ingress.dmac(dst=5) -> ingress.set_port(port=3) prio=0", batches[0][0].String())
	assert.Equal(t, "insert ingress.dmac(dst=6) -> ingress.set_port(port=4) prio=0", batches[1][0].String())
}

func TestDigest_BadItemDropped(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	before := promtest.ToFloat64(countDigestItems.WithLabelValues("failed"))
	listID := st.InjectDigest(learnDigestID,
		testutil.Struct(testutil.Bits(1)), // wrong arity
		testutil.Struct(testutil.Bits(7), testutil.Bits(2)),
	)
	require.NoError(t, st.WaitAck(testCtx(t), listID))

	require.Eventually(t, func() bool { return len(sw.Batches()) == 1 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(1), promtest.ToFloat64(countDigestItems.WithLabelValues("failed"))-before)
}

func TestDigest_OtherMessagesIgnored(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	before := promtest.ToFloat64(countStreamMessages.WithLabelValues(kindPacket))
	st.Inject(&p4_v1.StreamMessageResponse{Update: &p4_v1.StreamMessageResponse_Packet{Packet: &p4_v1.PacketIn{}}})
	st.Inject(&p4_v1.StreamMessageResponse{Update: &p4_v1.StreamMessageResponse_IdleTimeoutNotification{
		IdleTimeoutNotification: &p4_v1.IdleTimeoutNotification{},
	}})
	st.Inject(&p4_v1.StreamMessageResponse{Update: &p4_v1.StreamMessageResponse_Error{
		Error: &p4_v1.StreamError{CanonicalCode: 3, Message: "bad ack"},
	}})
	listID := st.InjectDigest(learnDigestID, testutil.Struct(testutil.Bits(8), testutil.Bits(1)))
	require.NoError(t, st.WaitAck(testCtx(t), listID))

	require.Eventually(t, func() bool { return len(sw.Batches()) == 1 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(1), promtest.ToFloat64(countStreamMessages.WithLabelValues(kindPacket))-before)
}

func TestDigest_StreamEndAllowsRestart(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	st.Close()
	require.Eventually(t, func() bool {
		active, _ := c.DigestState()
		return !active
	}, testTimeout, 5*time.Millisecond)
	_, err := c.DigestState()
	assert.NoError(t, err, "EOF is a clean end")

	st2 := startStream(t, c, sw)
	listID := st2.InjectDigest(learnDigestID, testutil.Struct(testutil.Bits(2), testutil.Bits(5)))
	require.NoError(t, st2.WaitAck(testCtx(t), listID))
	require.Eventually(t, func() bool { return len(sw.Batches()) == 1 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, 2, sw.Arbitrations())
}

func TestDigest_StreamFailureRecorded(t *testing.T) {
	c, _, sw := setup(t, Options{})
	st := startStream(t, c, sw)

	st.Fail(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		active, _ := c.DigestState()
		return !active
	}, testTimeout, 5*time.Millisecond)

	_, err := c.DigestState()
	assert.True(t, IsStreamError(err))
	assert.ErrorContains(t, err, "connection reset")

	// the mailbox keeps working
	require.NoError(t, c.SubmitUpdates(testCtx(t), []ir.Update{learned(5, 3)}))
}

func TestStop_CancelsDigestStream(t *testing.T) {
	c, eng, sw := setup(t, Options{})
	startStream(t, c, sw)

	require.NoError(t, c.Stop(testCtx(t)))
	active, _ := c.DigestState()
	assert.False(t, active)
	assert.Equal(t, int32(1), eng.stops.Load())
}

func TestFlush_AppliesForwardedDigests(t *testing.T) {
	c, _, sw := setup(t, Options{DigestBindings: map[string]string{"learn_t": "Learned"}})
	st := startStream(t, c, sw)

	listID := st.InjectDigest(learnDigestID,
		testutil.Struct(testutil.Bits(5), testutil.Bits(3)),
		testutil.Struct(testutil.Bits(6), testutil.Bits(4)),
	)
	require.NoError(t, st.WaitAck(testCtx(t), listID))

	// acks follow forwarding, so both items are buffered or applied by now
	require.NoError(t, c.Flush(testCtx(t)))
	assert.Len(t, sw.Batches(), 2)
}

func TestFlush_WithoutStream(t *testing.T) {
	c, _, sw := setup(t, Options{})

	require.NoError(t, c.Flush(testCtx(t)))
	assert.Empty(t, sw.Batches())
}
