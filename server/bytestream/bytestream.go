package bytestream

import (
	"fmt"
	"io"

	bytestream_proto "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"

	"github.com/tweag/asset-relay/auth/grpcheaderinterceptor"
	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/internal/protohelper"
	"github.com/tweag/asset-relay/service/delivery"
	"github.com/tweag/asset-relay/service/status"
)

// DefaultChunkSize stays well below the default 4 MiB message limit.
const DefaultChunkSize = 1 << 20

// Server implements ByteStream.Read over stored assets.
// The resource name is the asset path; the capability travels in metadata.
// Writes are not supported.
type Server struct {
	bytestream_proto.UnimplementedByteStreamServer

	service   *delivery.Service
	chunkSize int
}

func New(service *delivery.Service) *Server {
	return &Server{service: service, chunkSize: DefaultChunkSize}
}

// NewGRPCServer returns a gRPC server with the capability interceptors and s registered.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	g := grpc.NewServer(append(grpcheaderinterceptor.ServerOptions(), opts...)...)
	bytestream_proto.RegisterByteStreamServer(g, s)
	return g
}

func (s *Server) Read(req *bytestream_proto.ReadRequest, stream bytestream_proto.ByteStream_ReadServer) error {
	ctx := stream.Context()
	if req.ReadOffset < 0 {
		return protohelper.ToGRPCError(status.Validation("read_offset must not be negative"), req.ResourceName)
	}
	if req.ReadLimit < 0 {
		return protohelper.ToGRPCError(status.Validation("read_limit must not be negative"), req.ResourceName)
	}
	creds, _ := grpcheaderinterceptor.FromContext(ctx)

	handle, err := s.service.Open(ctx, delivery.Access{
		Path:    req.ResourceName,
		Token:   creds.Token,
		Expires: creds.Expires,
	})
	if err != nil {
		return protohelper.ToGRPCError(err, req.ResourceName)
	}
	defer handle.Close()

	if req.ReadOffset > handle.Size {
		return protohelper.ToGRPCError(
			status.RangeNotSatisfiable(fmt.Sprintf("read_offset %d is beyond the size %d", req.ReadOffset, handle.Size)),
			req.ResourceName,
		)
	}
	remaining := handle.Size - req.ReadOffset
	if req.ReadLimit > 0 {
		remaining = min(remaining, req.ReadLimit)
	}

	section := io.NewSectionReader(handle, req.ReadOffset, remaining)
	buf := make([]byte, min(int64(s.chunkSize), max(remaining, 1)))
	var sent int64
	for sent < remaining {
		if err := ctx.Err(); err != nil {
			s.service.Account(delivery.SurfaceGRPC, sent, true)
			return err
		}
		n, readErr := section.Read(buf)
		if n > 0 {
			if err := stream.Send(&bytestream_proto.ReadResponse{Data: buf[:n]}); err != nil {
				s.service.Account(delivery.SurfaceGRPC, sent, true)
				return err
			}
			sent += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.service.Account(delivery.SurfaceGRPC, sent, true)
			logging.Errorf("reading %s: %v", req.ResourceName, readErr)
			return protohelper.ToGRPCError(status.Internal(readErr), req.ResourceName)
		}
	}
	s.service.Account(delivery.SurfaceGRPC, sent, false)
	return nil
}
