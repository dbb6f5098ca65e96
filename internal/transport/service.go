package transport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "chordfs.ChordService"

// Full method names of the Chord service.
const (
	methodGetPredecessor       = "/" + serviceName + "/GetPredecessor"
	methodLocateSuccessor      = "/" + serviceName + "/LocateSuccessor"
	methodClosestPrecedingNode = "/" + serviceName + "/ClosestPrecedingNode"
	methodJoinRing             = "/" + serviceName + "/JoinRing"
	methodNotify               = "/" + serviceName + "/Notify"
	methodIsAlive              = "/" + serviceName + "/IsAlive"
	methodGetID                = "/" + serviceName + "/GetID"
	methodPut                  = "/" + serviceName + "/Put"
	methodGet                  = "/" + serviceName + "/Get"
	methodDelete               = "/" + serviceName + "/Delete"
)

// chordServiceServer is the server side of the Chord service.
type chordServiceServer interface {
	GetPredecessor(context.Context, *emptyMsg) (*peerReply, error)
	LocateSuccessor(context.Context, *keyMsg) (*peerReply, error)
	ClosestPrecedingNode(context.Context, *keyMsg) (*peerReply, error)
	JoinRing(context.Context, *joinMsg) (*emptyMsg, error)
	Notify(context.Context, *notifyMsg) (*emptyMsg, error)
	IsAlive(context.Context, *emptyMsg) (*aliveReply, error)
	GetID(context.Context, *emptyMsg) (*idReply, error)
	Put(context.Context, *putMsg) (*emptyMsg, error)
	Get(context.Context, *keyMsg) (*dataReply, error)
	Delete(context.Context, *keyMsg) (*emptyMsg, error)
}

// unaryMethod builds the handler grpc-go calls for one method: decode the
// request, then run the interceptor chain around call.
func unaryMethod[Req any, PReq interface {
	*Req
	wireMessage
}, Resp wireMessage](name string, call func(chordServiceServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(chordServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(chordServiceServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var chordServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*chordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetPredecessor", chordServiceServer.GetPredecessor),
		unaryMethod("LocateSuccessor", chordServiceServer.LocateSuccessor),
		unaryMethod("ClosestPrecedingNode", chordServiceServer.ClosestPrecedingNode),
		unaryMethod("JoinRing", chordServiceServer.JoinRing),
		unaryMethod("Notify", chordServiceServer.Notify),
		unaryMethod("IsAlive", chordServiceServer.IsAlive),
		unaryMethod("GetID", chordServiceServer.GetID),
		unaryMethod("Put", chordServiceServer.Put),
		unaryMethod("Get", chordServiceServer.Get),
		unaryMethod("Delete", chordServiceServer.Delete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chordfs.proto",
}
