// Package ledger is the gRPC transport to the proof ledger. The node exposes
// no stable generated API, so methods are resolved through server reflection
// and invoked dynamically; the supported method set is negotiated once at
// dial time instead of probed per call.
package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/veridrop/veridrop/internal/faults"
	"github.com/veridrop/veridrop/internal/metrics"
)

// Capability is one upstream API version: the full method names the client
// needs for proof submission. A set is usable only when every method
// resolves against the node's reflection data.
type Capability struct {
	Version        string
	SubmitMethod   string
	TxByHashMethod string
	StatusMethod   string
}

// capabilitySets is ordered newest first; negotiation picks the first set
// whose methods all resolve.
var capabilitySets = []Capability{
	{
		Version:        "v1beta2",
		SubmitMethod:   "proofnet.tx.v1beta2.Service.SubmitProof",
		TxByHashMethod: "proofnet.tx.v1beta2.Service.GetProofByHash",
		StatusMethod:   "proofnet.node.v1beta2.Service.Status",
	},
	{
		Version:        "v1beta1",
		SubmitMethod:   "proofnet.tx.v1beta1.Service.BroadcastProof",
		TxByHashMethod: "proofnet.tx.v1beta1.Service.GetTx",
		StatusMethod:   "proofnet.node.v1beta1.Service.Status",
	},
}

// Transport is the narrow ledger surface the proof submitter consumes.
type Transport interface {
	// Submit sends one proof submission (on-ledger hash reference plus
	// off-ledger body) and returns the node's raw JSON response.
	Submit(ctx context.Context, jsonParams []byte) ([]byte, error)

	// TxByHash fetches a transaction by hash as raw JSON.
	TxByHash(ctx context.Context, hash string) ([]byte, error)

	// LatestHeight returns the node's current block height.
	LatestHeight(ctx context.Context) (uint64, error)

	Close() error
}

// Options configure Dial. Interceptors is the explicit observability hook
// list; the connection is never patched after construction.
type Options struct {
	Endpoint     string
	Insecure     bool
	MaxRetries   uint
	Interceptors []grpc.UnaryClientInterceptor
}

// Client is a reflection-backed dynamic gRPC client bound to one negotiated
// capability set.
type Client struct {
	conn       *grpc.ClientConn
	resolver   methodResolver
	caps       Capability
	maxRetries uint
}

// Dial connects to the ledger node, resolves its service descriptors and
// negotiates the API version. It fails when no known capability set is fully
// supported.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if opts.Insecure {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if len(opts.Interceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(opts.Interceptors...))
	}

	conn, err := grpc.NewClient(opts.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger connection: %w", err)
	}

	resolver := newReflectionResolver(conn)
	caps, err := negotiate(ctx, resolver)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to negotiate ledger capabilities: %w", err)
	}
	slog.Info("Ledger transport ready", "endpoint", opts.Endpoint, "version", caps.Version)

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 1
	}
	return &Client{conn: conn, resolver: resolver, caps: caps, maxRetries: maxRetries}, nil
}

// negotiate selects the first capability set whose methods all resolve via
// reflection. Done once per connection; per-call method probing is
// deliberately absent.
func negotiate(ctx context.Context, resolver methodResolver) (Capability, error) {
	for _, caps := range capabilitySets {
		ok := true
		for _, method := range []string{caps.SubmitMethod, caps.TxByHashMethod, caps.StatusMethod} {
			if _, err := resolver.Method(ctx, method); err != nil {
				if faults.IsTransient(err) {
					return Capability{}, err
				}
				slog.Debug("Capability set not supported", "version", caps.Version, "method", method, "error", err)
				ok = false
				break
			}
		}
		if ok {
			return caps, nil
		}
	}
	return Capability{}, fmt.Errorf("node supports none of the known API versions")
}

// Version reports the negotiated upstream API version.
func (c *Client) Version() string { return c.caps.Version }

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Submit(ctx context.Context, jsonParams []byte) ([]byte, error) {
	return c.InvokeWithRetry(ctx, c.caps.SubmitMethod, jsonParams)
}

func (c *Client) TxByHash(ctx context.Context, hash string) ([]byte, error) {
	params := fmt.Sprintf(`{"hash": %q}`, hash)
	return c.InvokeWithRetry(ctx, c.caps.TxByHashMethod, []byte(params))
}

// LatestHeight reads the node status height. Upstream chains report height
// as a decimal string.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	msg, err := c.invokeMessage(ctx, c.caps.StatusMethod, []byte(`{}`))
	if err != nil {
		return 0, fmt.Errorf("failed to get node status: %w", err)
	}
	value, err := getNestedField(msg, "height")
	if err != nil {
		return 0, fmt.Errorf("failed to read status height: %w", err)
	}
	height, err := strconv.ParseUint(value.String(), 10, 64)
	if err != nil {
		return 0, errors.WithMessage(err, "error parsing height")
	}
	return height, nil
}

// Invoke calls a negotiated method with JSON-encoded parameters and returns
// the JSON-encoded response.
func (c *Client) Invoke(ctx context.Context, methodFullName string, jsonParams []byte) ([]byte, error) {
	msg, err := c.invokeMessage(ctx, methodFullName, jsonParams)
	if err != nil {
		return nil, err
	}
	out, err := protojson.Marshal(msg.Interface())
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return out, nil
}

// InvokeWithRetry retries Invoke on transient transport faults only, with a
// flat pause between attempts. Permanent errors fail immediately.
func (c *Client) InvokeWithRetry(ctx context.Context, methodFullName string, jsonParams []byte) ([]byte, error) {
	var lastErr error
	for attempt := uint(1); attempt <= c.maxRetries; attempt++ {
		out, err := c.Invoke(ctx, methodFullName, jsonParams)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !faults.IsTransient(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}
		metrics.TransportRetries.Inc()
		slog.Warn("Retrying ledger call", "method", methodFullName, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(faults.DefaultRetryAfter):
		}
	}
	return nil, faults.Transient(methodFullName, lastErr)
}

func (c *Client) invokeMessage(ctx context.Context, methodFullName string, jsonParams []byte) (protoreflect.Message, error) {
	md, err := c.resolver.Method(ctx, methodFullName)
	if err != nil {
		return nil, err
	}

	req := dynamicpb.NewMessage(md.Input())
	if err := protojson.Unmarshal(jsonParams, req); err != nil {
		return nil, fmt.Errorf("failed to encode request params: %w", err)
	}
	resp := dynamicpb.NewMessage(md.Output())

	rpcName := fmt.Sprintf("/%s/%s", md.Parent().FullName(), md.Name())
	if err := c.conn.Invoke(ctx, rpcName, req, resp); err != nil {
		return nil, faults.Transient(methodFullName, err)
	}
	return resp.ProtoReflect(), nil
}
