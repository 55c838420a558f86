package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "acq.requests.v1.AcquisitionService"

// AcquisitionServer is the gRPC surface. Payloads are google.protobuf.Struct
// documents carrying the same fields as the HTTP API.
type AcquisitionServer interface {
	Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckGate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetApprovalStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements AcquisitionServer
type GRPCHandler struct {
	svc Services
	log *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, log: log}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, h)
}

// Classify previews the classification of intake answers.
func (h *GRPCHandler) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in previewRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.NeedType == "" {
		return nil, errors.InvalidInput("intake_q1_need_type", "need type is required")
	}
	return toStruct(h.svc.Requests.Preview(in.answers(), in.EstimatedValue))
}

// CheckGate reports the readiness of {request_id, gate}.
func (h *GRPCHandler) CheckGate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		RequestID string `json:"request_id"`
		Gate      string `json:"gate"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.RequestID == "" {
		return nil, errors.InvalidInput("request_id", "request_id is required")
	}

	res, err := h.svc.Packages.CheckGate(ctx, in.RequestID, in.Gate)
	if err != nil {
		return nil, err
	}
	return toStruct(res)
}

// CheckBalance checks {clin_id, amount} against the CLIN's available balance.
func (h *GRPCHandler) CheckBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in service.BalanceInput
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}

	chk, err := h.svc.Funding.CheckCLINBalance(ctx, in)
	if err != nil {
		return nil, err
	}
	return toStruct(chk)
}

func (h *GRPCHandler) GetApprovalStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := req.GetFields()["request_id"].GetStringValue()
	if requestID == "" {
		return nil, errors.InvalidInput("request_id", "request_id is required")
	}

	st, err := h.svc.Approvals.GetApprovalStatus(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return toStruct(st)
}

// UnaryInterceptor logs each call and converts service errors to gRPC
// statuses by code.
func UnaryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err == nil {
			log.Debug().Str("method", info.FullMethod).Dur("duration", time.Since(start)).Msg("gRPC call")
			return resp, nil
		}
		var appErr *errors.Error
		if !stderrors.As(err, &appErr) {
			if _, ok := status.FromError(err); ok {
				return nil, err
			}
		}
		return nil, mapErrorToGRPC(log, info.FullMethod, err)
	}
}

// mapErrorToGRPC converts err by its code. Internal causes are logged and
// not echoed to the caller.
func mapErrorToGRPC(log *logger.Logger, method string, err error) error {
	var appErr *errors.Error
	if !stderrors.As(err, &appErr) || appErr.Code == errors.ErrCodeInternal {
		log.Error().Err(err).Str("method", method).Msg("gRPC call failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(errors.GRPCCode(appErr), appErr.Message)
}

// ── Struct codec ──────────────────────────────────────────────────────────────

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "encode response")
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, dst any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return errors.InvalidInput("request", "malformed request")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.InvalidInput("request", "invalid request: "+err.Error())
	}
	return nil
}

// ── Service descriptor ────────────────────────────────────────────────────────

type unaryMethod func(h AcquisitionServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AcquisitionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AcquisitionServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AcquisitionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Classify", AcquisitionServer.Classify),
		unary("CheckGate", AcquisitionServer.CheckGate),
		unary("CheckBalance", AcquisitionServer.CheckBalance),
		unary("GetApprovalStatus", AcquisitionServer.GetApprovalStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "acq/requests/v1/acquisition.proto",
}
