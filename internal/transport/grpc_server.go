package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/internal/config"
	"github.com/zde37/chordfs/pkg"
)

// GRPCServer wraps a ChordNode and serves the Chord service.
type GRPCServer struct {
	node      *chord.ChordNode
	server    *grpc.Server
	logger    *pkg.Logger
	authToken string // Authentication token for node-to-node communication

	// Server address
	address  string
	maxMsg   int
	mu       sync.Mutex
	listener net.Listener
}

var _ chordServiceServer = (*GRPCServer)(nil)

// NewGRPCServer creates a new gRPC server for the given ChordNode, listening on
// the node's own address.
func NewGRPCServer(node *chord.ChordNode, cfg *config.Config, logger *pkg.Logger) (*GRPCServer, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &GRPCServer{
		node:      node,
		address:   node.Address().Address(),
		authToken: cfg.AuthToken,
		maxMsg:    cfg.MaxMessageSize,
		logger:    logger.WithFields(pkg.Fields{"component": "grpc_server"}),
	}

	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(s.maxMsg),
		grpc.MaxSendMsgSize(s.maxMsg),
		grpc.ChainUnaryInterceptor(
			RequestIDInterceptor(s.logger),
			AuthInterceptor(s.authToken),
		),
	)
	s.server.RegisterService(&chordServiceDesc, s)
	return s, nil
}

// Start binds the node's address and serves in the background. Failing to bind
// is the one fatal startup error.
func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(listener)
}

// Serve serves on an already bound listener in the background.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started on %s", s.listener.Addr())
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting gRPC server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() error {
	s.logger.Info().Msg("Stopping gRPC server")
	s.server.GracefulStop()
	return nil
}

// GetPredecessor implements the GetPredecessor RPC.
func (s *GRPCServer) GetPredecessor(ctx context.Context, req *emptyMsg) (*peerReply, error) {
	return &peerReply{peer: toPeerMsg(s.node.GetPredecessor())}, nil
}

// LocateSuccessor implements the LocateSuccessor RPC.
func (s *GRPCServer) LocateSuccessor(ctx context.Context, req *keyMsg) (*peerReply, error) {
	if req.key == nil {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	if req.hops > math.MaxInt32 {
		return nil, status.Errorf(codes.InvalidArgument, "hop count %d out of range", req.hops)
	}

	succ, err := s.node.LocateSuccessor(ctx, decodeID(req.key), int(req.hops))
	if err != nil {
		return nil, toStatus(err)
	}
	return &peerReply{peer: toPeerMsg(succ)}, nil
}

// ClosestPrecedingNode implements the ClosestPrecedingNode RPC.
func (s *GRPCServer) ClosestPrecedingNode(ctx context.Context, req *keyMsg) (*peerReply, error) {
	if req.key == nil {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	node, err := s.node.ClosestPrecedingNode(decodeID(req.key))
	if err != nil {
		return nil, toStatus(err)
	}
	return &peerReply{peer: toPeerMsg(node)}, nil
}

// JoinRing implements the JoinRing RPC: the receiving node joins through the
// given bootstrap address.
func (s *GRPCServer) JoinRing(ctx context.Context, req *joinMsg) (*emptyMsg, error) {
	if err := s.node.JoinRing(ctx, req.bootstrap); err != nil {
		return nil, toStatus(err)
	}
	return &emptyMsg{}, nil
}

// Notify implements the Notify RPC.
func (s *GRPCServer) Notify(ctx context.Context, req *notifyMsg) (*emptyMsg, error) {
	candidate := req.candidate.address()
	if candidate == nil {
		return nil, status.Error(codes.InvalidArgument, "candidate cannot be nil")
	}

	if err := s.node.Notify(ctx, candidate, req.departing); err != nil {
		return nil, toStatus(err)
	}
	return &emptyMsg{}, nil
}

// IsAlive implements the IsAlive RPC. A node that answers is alive unless it is
// shutting down.
func (s *GRPCServer) IsAlive(ctx context.Context, req *emptyMsg) (*aliveReply, error) {
	return &aliveReply{alive: s.node.IsAlive()}, nil
}

// GetID implements the GetID RPC.
func (s *GRPCServer) GetID(ctx context.Context, req *emptyMsg) (*idReply, error) {
	return &idReply{id: encodeID(s.node.ID())}, nil
}

// Put implements the Put RPC against the local store.
func (s *GRPCServer) Put(ctx context.Context, req *putMsg) (*emptyMsg, error) {
	if req.key == nil {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	data := req.data
	if data == nil {
		data = []byte{}
	}
	if err := s.node.Put(ctx, decodeID(req.key), data); err != nil {
		return nil, toStatus(err)
	}
	return &emptyMsg{}, nil
}

// Get implements the Get RPC against the local store.
func (s *GRPCServer) Get(ctx context.Context, req *keyMsg) (*dataReply, error) {
	if req.key == nil {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	data, err := s.node.Get(ctx, decodeID(req.key))
	if err != nil {
		return nil, toStatus(err)
	}
	if data == nil {
		data = []byte{}
	}
	return &dataReply{data: data}, nil
}

// Delete implements the Delete RPC against the local store.
func (s *GRPCServer) Delete(ctx context.Context, req *keyMsg) (*emptyMsg, error) {
	if req.key == nil {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	if err := s.node.Delete(ctx, decodeID(req.key)); err != nil {
		return nil, toStatus(err)
	}
	return &emptyMsg{}, nil
}
