package transport

import (
	"context"
	"time"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordfs/pkg"
)

const (
	// AuthTokenHeader is the metadata key for authentication tokens
	AuthTokenHeader = "x-auth-token"

	// RequestIDHeader carries the request ID across hops of one lookup
	RequestIDHeader = "x-request-id"
)

// AuthInterceptor creates a gRPC unary interceptor that validates auth tokens.
// If expectedToken is empty, authentication is disabled (allows anyone to join).
func AuthInterceptor(expectedToken string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if expectedToken == "" {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		tokens := md.Get(AuthTokenHeader)
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing auth token")
		}
		if tokens[0] != expectedToken {
			return nil, status.Error(codes.Unauthenticated, "invalid auth token")
		}

		return handler(ctx, req)
	}
}

// RequestIDInterceptor puts the caller's request ID (or a fresh one) into the
// handler context so node logs and onward calls carry it, and logs each call.
func RequestIDInterceptor(logger *pkg.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		var reqID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(RequestIDHeader); len(ids) > 0 {
				reqID = ids[0]
			}
		}
		if reqID == "" {
			reqID = xid.New().String()
		}
		ctx = pkg.ContextWithRequestID(ctx, reqID)

		start := time.Now()
		resp, err := handler(ctx, req)

		log := logger.WithContext(ctx)
		event := log.Trace()
		if err != nil {
			event = log.Debug().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Msg("Handled RPC")
		return resp, err
	}
}

// clientInterceptor attaches the auth token and the request ID to every
// outgoing call.
func clientInterceptor(authToken string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		reqID, ok := pkg.RequestIDFromContext(ctx)
		if !ok {
			reqID = xid.New().String()
		}
		pairs := []string{RequestIDHeader, reqID}
		if authToken != "" {
			pairs = append(pairs, AuthTokenHeader, authToken)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
