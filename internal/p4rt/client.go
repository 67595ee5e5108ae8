package p4rt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/roach88/tablesync/internal/pipeline"
)

// DefaultElectionID is the election id used when none is configured.
const DefaultElectionID = 1

// Client is a P4Runtime session with one device.
type Client struct {
	rt         p4_v1.P4RuntimeClient
	conn       *grpc.ClientConn // nil when built with NewClient
	deviceID   uint64
	electionID *p4_v1.Uint128
	logger     *slog.Logger

	// the session outlives the calls that open it; Close cancels it.
	streamCtx context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	session *session
}

// Option configures a Client.
type Option func(*Client)

// WithDeviceID sets the target device. Default: 0.
func WithDeviceID(id uint64) Option {
	return func(c *Client) {
		c.deviceID = id
	}
}

// WithElectionID sets the low 64 bits of the election id. Default: 1.
func WithElectionID(id uint64) Option {
	return func(c *Client) {
		c.electionID = &p4_v1.Uint128{Low: id}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Dial connects to a P4Runtime server. The connection is plaintext; the
// switch agent is expected on a management network.
func Dial(target string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	c := NewClient(p4_v1.NewP4RuntimeClient(conn), opts...)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing P4Runtime stub.
func NewClient(rt p4_v1.P4RuntimeClient, opts ...Option) *Client {
	c := &Client{
		rt:         rt,
		electionID: &p4_v1.Uint128{Low: DefaultElectionID},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.streamCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

// DeviceID returns the device this client targets.
func (c *Client) DeviceID() uint64 {
	return c.deviceID
}

// PipelineConfig fetches the P4Info of the installed pipeline.
func (c *Client) PipelineConfig(ctx context.Context) (*p4_config_v1.P4Info, error) {
	resp, err := c.rt.GetForwardingPipelineConfig(ctx, &p4_v1.GetForwardingPipelineConfigRequest{
		DeviceId:     c.deviceID,
		ResponseType: p4_v1.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE,
	})
	observe("GetForwardingPipelineConfig", err)
	if err != nil {
		return nil, fmt.Errorf("get pipeline config: %w", err)
	}
	info := resp.GetConfig().GetP4Info()
	if info == nil {
		return nil, fmt.Errorf("get pipeline config: device %d has no pipeline installed", c.deviceID)
	}
	return info, nil
}

// Pipeline fetches the installed pipeline's schema.
func (c *Client) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	info, err := c.PipelineConfig(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.FromP4Info(info)
}

// SetPipeline installs a pipeline with VERIFY_AND_COMMIT. deviceConfig is the
// target-specific binary and may be empty for targets that only need P4Info.
func (c *Client) SetPipeline(ctx context.Context, info *p4_config_v1.P4Info, deviceConfig []byte, cookie uint64) error {
	_, err := c.rt.SetForwardingPipelineConfig(ctx, &p4_v1.SetForwardingPipelineConfigRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Action:     p4_v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4_v1.ForwardingPipelineConfig{
			P4Info:         info,
			P4DeviceConfig: deviceConfig,
			Cookie:         &p4_v1.ForwardingPipelineConfig_Cookie{Cookie: cookie},
		},
	})
	observe("SetForwardingPipelineConfig", err)
	if err != nil {
		return fmt.Errorf("set pipeline config: %w", err)
	}
	c.logger.Info("pipeline installed",
		"device", c.deviceID,
		"tables", len(info.GetTables()),
		"cookie", cookie,
	)
	return nil
}

// Close cancels open streams and, for dialed clients, closes the connection.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
