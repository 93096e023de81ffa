package grpcheaderinterceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/tweag/asset-relay/internal/logging"
)

// Metadata keys carrying a capability.
const (
	TokenHeader   = "x-asset-token"
	ExpiresHeader = "x-asset-expires"
)

// Credentials is the capability presented with a call.
// Either field may be empty.
type Credentials struct {
	Token   string
	Expires string
}

type credentialsKey struct{}

func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// FromContext returns the credentials extracted by the server interceptors.
func FromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey{}).(Credentials)
	return creds, ok
}

func credentialsFromMD(md metadata.MD) Credentials {
	first := func(key string) string {
		if values := md.Get(key); len(values) > 0 {
			return values[0]
		}
		return ""
	}
	return Credentials{Token: first(TokenHeader), Expires: first(ExpiresHeader)}
}

func extract(ctx context.Context, method string) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	}
	creds := credentialsFromMD(md)
	if creds.Token == "" {
		logging.Debugf("gRPC call %s carries no capability token", method)
	}
	return WithCredentials(ctx, creds)
}

// unaryExtract moves the capability headers of a unary call into its context.
func unaryExtract(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return handler(extract(ctx, info.FullMethod), req)
}

// streamExtract moves the capability headers of a stream into its context.
func streamExtract(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return handler(srv, &credentialedStream{ServerStream: ss, ctx: extract(ss.Context(), info.FullMethod)})
}

type credentialedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *credentialedStream) Context() context.Context {
	return s.ctx
}

func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryExtract),
		grpc.ChainStreamInterceptor(streamExtract),
	}
}

type attachingInterceptor struct {
	creds Credentials
}

// unaryAddHeaders injects the capability into a unary gRPC call.
func (i *attachingInterceptor) unaryAddHeaders(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(i.attach(ctx), method, req, reply, cc, opts...)
}

// streamAddHeaders injects the capability into a stream gRPC call.
func (i *attachingInterceptor) streamAddHeaders(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(i.attach(ctx), desc, cc, method, opts...)
}

func (i *attachingInterceptor) attach(ctx context.Context) context.Context {
	var kv []string
	if i.creds.Token != "" {
		kv = append(kv, TokenHeader, i.creds.Token)
	}
	if i.creds.Expires != "" {
		kv = append(kv, ExpiresHeader, i.creds.Expires)
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// DialOptions presents creds with every call of a client connection.
func DialOptions(creds Credentials) []grpc.DialOption {
	interceptor := &attachingInterceptor{creds: creds}
	return []grpc.DialOption{
		grpc.WithUnaryInterceptor(interceptor.unaryAddHeaders),
		grpc.WithStreamInterceptor(interceptor.streamAddHeaders),
	}
}
