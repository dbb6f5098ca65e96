package transport

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/simplelru"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/pkg"
)

// Compile-time check to ensure GRPCClient implements chord.RemoteClient
var _ chord.RemoteClient = (*GRPCClient)(nil)

// GRPCClient manages connections to remote Chord nodes.
type GRPCClient struct {
	logger    *pkg.Logger
	authToken string

	// Connection pool, least recently used connections are closed first
	connections lru.LRUCache
	connMu      sync.Mutex
	closed      bool

	// Default timeout for RPC calls
	timeout        time.Duration
	maxMessageSize int
}

// NewGRPCClient creates a new gRPC client from the node configuration.
func NewGRPCClient(cfg *config.Config, logger *pkg.Logger) (*GRPCClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = pkg.NewNop()
	}

	c := &GRPCClient{
		logger:         logger.WithFields(pkg.Fields{"component": "grpc_client"}),
		authToken:      cfg.AuthToken,
		timeout:        cfg.RPCTimeout,
		maxMessageSize: cfg.MaxMessageSize,
	}

	pool, err := lru.NewLRU(cfg.ConnPoolSize, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	c.connections = pool
	return c, nil
}

func (c *GRPCClient) onEvict(key, value any) {
	conn := value.(*grpc.ClientConn)
	if err := conn.Close(); err != nil {
		c.logger.Debug().Err(err).Str("address", key.(string)).Msg("Failed to close connection")
		return
	}
	c.logger.Debug().Str("address", key.(string)).Msg("Closed gRPC connection")
}

// getConnection returns a connection to the given address, creating one if needed.
func (c *GRPCClient) getConnection(address string) (*grpc.ClientConn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: client closed", chord.ErrUnreachable)
	}
	if v, ok := c.connections.Get(address); ok {
		return v.(*grpc.ClientConn), nil
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   c.timeout,
			},
			MinConnectTimeout: c.timeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(c.maxMessageSize),
			grpc.MaxCallSendMsgSize(c.maxMessageSize),
		),
		grpc.WithUnaryInterceptor(clientInterceptor(c.authToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", chord.ErrUnreachable, address, err)
	}

	c.connections.Add(address, conn)
	c.logger.Debug().Str("address", address).Msg("Created new gRPC connection")
	return conn, nil
}

// dropConnection discards the pooled connection to address so the next call
// dials afresh instead of waiting out the reconnect backoff.
func (c *GRPCClient) dropConnection(address string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connections.Remove(address)
}

// invoke runs one unary call with the default timeout unless ctx already has a
// deadline, and maps the outcome to chord errors.
func (c *GRPCClient) invoke(ctx context.Context, address, method string, req, resp wireMessage) error {
	conn, err := c.getConnection(address)
	if err != nil {
		return err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err = conn.Invoke(ctx, method, req, resp)
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Unavailable {
		c.dropConnection(address)
	}
	return fromStatus(method, address, err)
}

func keyRequest(key *big.Int, hops int) (*keyMsg, error) {
	if key == nil || key.Sign() < 0 {
		return nil, fmt.Errorf("%w: key must be a non-negative identifier", chord.ErrInvalidArgument)
	}
	if hops < 0 {
		hops = 0
	}
	return &keyMsg{key: encodeID(key), hops: uint64(hops)}, nil
}

// GetPredecessor calls the GetPredecessor RPC on a remote node. A nil result
// means the remote node has no predecessor.
func (c *GRPCClient) GetPredecessor(ctx context.Context, address string) (*chord.NodeAddress, error) {
	resp := &peerReply{}
	if err := c.invoke(ctx, address, methodGetPredecessor, &emptyMsg{}, resp); err != nil {
		return nil, err
	}
	return resp.peer.address(), nil
}

// LocateSuccessor calls the LocateSuccessor RPC on a remote node.
func (c *GRPCClient) LocateSuccessor(ctx context.Context, address string, key *big.Int, hops int) (*chord.NodeAddress, error) {
	req, err := keyRequest(key, hops)
	if err != nil {
		return nil, err
	}

	resp := &peerReply{}
	if err := c.invoke(ctx, address, methodLocateSuccessor, req, resp); err != nil {
		return nil, err
	}
	succ := resp.peer.address()
	if succ == nil {
		return nil, fmt.Errorf("%w: %s returned no successor", chord.ErrRoutingFailure, address)
	}
	return succ, nil
}

// ClosestPrecedingNode calls the ClosestPrecedingNode RPC on a remote node.
func (c *GRPCClient) ClosestPrecedingNode(ctx context.Context, address string, key *big.Int) (*chord.NodeAddress, error) {
	req, err := keyRequest(key, 0)
	if err != nil {
		return nil, err
	}

	resp := &peerReply{}
	if err := c.invoke(ctx, address, methodClosestPrecedingNode, req, resp); err != nil {
		return nil, err
	}
	node := resp.peer.address()
	if node == nil {
		return nil, fmt.Errorf("%w: %s returned no node", chord.ErrRoutingFailure, address)
	}
	return node, nil
}

// JoinRing asks the node at address to join the ring through bootstrap.
func (c *GRPCClient) JoinRing(ctx context.Context, address string, bootstrap string) error {
	return c.invoke(ctx, address, methodJoinRing, &joinMsg{bootstrap: bootstrap}, &emptyMsg{})
}

// Notify calls the Notify RPC on a remote node.
func (c *GRPCClient) Notify(ctx context.Context, address string, candidate *chord.NodeAddress, departing bool) error {
	if candidate.IsNil() {
		return fmt.Errorf("%w: candidate cannot be nil", chord.ErrInvalidArgument)
	}
	req := &notifyMsg{candidate: toPeerMsg(candidate), departing: departing}
	return c.invoke(ctx, address, methodNotify, req, &emptyMsg{})
}

// IsAlive probes a remote node. Callers treat an error as dead.
func (c *GRPCClient) IsAlive(ctx context.Context, address string) (bool, error) {
	resp := &aliveReply{}
	if err := c.invoke(ctx, address, methodIsAlive, &emptyMsg{}, resp); err != nil {
		return false, err
	}
	return resp.alive, nil
}

// GetID calls the GetID RPC on a remote node.
func (c *GRPCClient) GetID(ctx context.Context, address string) (*big.Int, error) {
	resp := &idReply{}
	if err := c.invoke(ctx, address, methodGetID, &emptyMsg{}, resp); err != nil {
		return nil, err
	}
	id := decodeID(resp.id)
	if id == nil {
		return nil, fmt.Errorf("%w: %s returned no id", chord.ErrUnreachable, address)
	}
	return id, nil
}

// Put stores data under key in the remote node's local store.
func (c *GRPCClient) Put(ctx context.Context, address string, key *big.Int, data []byte) error {
	req, err := keyRequest(key, 0)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	return c.invoke(ctx, address, methodPut, &putMsg{key: req.key, data: data}, &emptyMsg{})
}

// Get reads key from the remote node's local store.
func (c *GRPCClient) Get(ctx context.Context, address string, key *big.Int) ([]byte, error) {
	req, err := keyRequest(key, 0)
	if err != nil {
		return nil, err
	}

	resp := &dataReply{}
	if err := c.invoke(ctx, address, methodGet, req, resp); err != nil {
		return nil, err
	}
	if resp.data == nil {
		return []byte{}, nil
	}
	return resp.data, nil
}

// Delete removes key from the remote node's local store.
func (c *GRPCClient) Delete(ctx context.Context, address string, key *big.Int) error {
	req, err := keyRequest(key, 0)
	if err != nil {
		return err
	}
	return c.invoke(ctx, address, methodDelete, req, &emptyMsg{})
}

// Close closes all connections.
func (c *GRPCClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info().
		Int("connections", c.connections.Len()).
		Msg("Closing all gRPC connections")
	c.connections.Purge()
	return nil
}
