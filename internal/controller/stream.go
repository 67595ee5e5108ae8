package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/roach88/tablesync/internal/digest"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/p4rt"
)

// Stream message kinds, as counted and logged.
const (
	kindArbitration = "arbitration"
	kindPacket      = "packet"
	kindDigest      = "digest"
	kindIdleTimeout = "idle_timeout"
	kindOther       = "other"
	kindError       = "error"
	kindEmpty       = "empty"
)

// digestActor owns the stream. It is the only goroutine that sends or
// receives on it.
type digestActor struct {
	stream      p4rt.Stream
	decoder     digest.Decoder
	arbitration *p4_v1.StreamMessageRequest
	out         chan<- ir.Update
	logger      *slog.Logger
}

// run re-sends the arbitration claim on the primary stream, then forwards
// decoded digest items until the stream ends.
// It closes out on return. EOF and cancellation end it cleanly; any other
// receive failure is a *StreamError.
func (a *digestActor) run(ctx context.Context) error {
	defer close(a.out)
	defer a.stream.CloseSend()

	if err := a.stream.Send(a.arbitration); err != nil {
		a.logger.Warn("arbitration handshake failed", "error", err)
	}

	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				a.logger.Info("digest stream closed")
				return nil
			}
			return &StreamError{Err: err}
		}

		kind := messageKind(resp)
		countStreamMessages.WithLabelValues(kind).Inc()

		switch kind {
		case kindDigest:
			if err := a.forward(ctx, resp.GetDigest()); err != nil {
				return nil // cancelled
			}
		case kindError:
			se := resp.GetError()
			a.logger.Warn("stream error message",
				"code", se.GetCanonicalCode(),
				"message", se.GetMessage(),
			)
		default:
			a.logger.Debug("stream message ignored", "kind", kind)
		}
	}
}

// forward decodes every item of list and sends it to the actor, then acks
// the list. Items that fail to decode are logged and skipped.
func (a *digestActor) forward(ctx context.Context, list *p4_v1.DigestList) error {
	for i, data := range list.GetData() {
		u, err := a.decoder.Decode(list.GetDigestId(), data)
		if err != nil {
			countDigestItems.WithLabelValues("failed").Inc()
			a.logger.Warn("digest item dropped",
				"digest_id", list.GetDigestId(),
				"list_id", list.GetListId(),
				"item", i,
				"error", err,
			)
			continue
		}
		countDigestItems.WithLabelValues("decoded").Inc()

		select {
		case a.out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := a.stream.Send(p4rt.DigestAck(list.GetDigestId(), list.GetListId())); err != nil {
		a.logger.Warn("digest ack failed", "list_id", list.GetListId(), "error", err)
	}
	return nil
}

func messageKind(resp *p4_v1.StreamMessageResponse) string {
	switch resp.GetUpdate().(type) {
	case *p4_v1.StreamMessageResponse_Arbitration:
		return kindArbitration
	case *p4_v1.StreamMessageResponse_Packet:
		return kindPacket
	case *p4_v1.StreamMessageResponse_Digest:
		return kindDigest
	case *p4_v1.StreamMessageResponse_IdleTimeoutNotification:
		return kindIdleTimeout
	case *p4_v1.StreamMessageResponse_Error:
		return kindError
	case nil:
		return kindEmpty
	default:
		return kindOther
	}
}
