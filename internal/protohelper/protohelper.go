package protohelper

import (
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	gstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/service/status"
)

// ResourceType names assets in error details.
const ResourceType = "asset-relay/asset"

func GRPCCode(code status.StatusCode) codes.Code {
	switch code {
	case status.Status_OK:
		return codes.OK
	case status.Status_VALIDATION, status.Status_INVALID_PATH:
		return codes.InvalidArgument
	case status.Status_AUTH:
		return codes.PermissionDenied
	case status.Status_NOT_FOUND:
		return codes.NotFound
	case status.Status_RANGE_NOT_SATISFIABLE:
		return codes.OutOfRange
	}
	return codes.Internal
}

func FromGRPCCode(code codes.Code) status.StatusCode {
	switch code {
	case codes.OK:
		return status.Status_OK
	case codes.InvalidArgument:
		return status.Status_VALIDATION
	case codes.PermissionDenied, codes.Unauthenticated:
		return status.Status_AUTH
	case codes.NotFound:
		return status.Status_NOT_FOUND
	case codes.OutOfRange:
		return status.Status_RANGE_NOT_SATISFIABLE
	}
	return status.Status_INTERNAL
}

// ToProtoStatus classifies err and attaches details about the resource it concerns.
// Only the client-safe message is included.
func ToProtoStatus(err error, resourceName string) *gstatus.Status {
	st := status.FromError(err)
	protoStatus := &gstatus.Status{
		Code:    int32(GRPCCode(st.Code)),
		Message: st.Message,
	}
	var detail proto.Message
	switch st.Code {
	case status.Status_VALIDATION, status.Status_INVALID_PATH:
		detail = &errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: "resource_name", Description: st.Message},
			},
		}
	case status.Status_NOT_FOUND:
		detail = &errdetails.ResourceInfo{
			ResourceType: ResourceType,
			ResourceName: resourceName,
			Description:  st.Message,
		}
	}
	if detail != nil {
		packed, err := anypb.New(detail)
		if err != nil {
			logging.Warningf("packing error details: %v", err)
		} else {
			protoStatus.Details = append(protoStatus.Details, packed)
		}
	}
	return protoStatus
}

// ToGRPCError is ToProtoStatus as an error for returning from handlers.
func ToGRPCError(err error, resourceName string) error {
	if err == nil {
		return nil
	}
	return grpcstatus.ErrorProto(ToProtoStatus(err, resourceName))
}

func FromProtoStatus(googleStatus *gstatus.Status) status.Status {
	return status.Status{
		Code:    FromGRPCCode(codes.Code(googleStatus.Code)),
		Message: googleStatus.Message,
	}
}
