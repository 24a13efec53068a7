package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "saarathi.v1.PlanningService"

// PlanningServer is the server API for the planning service. Requests and
// responses are JSON objects carried as google.protobuf.Struct.
type PlanningServer interface {
	ListStations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectStation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBoard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshBoard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GeneratePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PredictConflicts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApprovePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(PlanningServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary adapts a PlanningServer method to a grpc.MethodHandler the same way
// protoc-gen-go-grpc output does.
func unary(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PlanningServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PlanningServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PlanningServiceDesc describes the planning service for grpc.Server.
var PlanningServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlanningServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListStations", Handler: unary("ListStations", PlanningServer.ListStations)},
		{MethodName: "SelectStation", Handler: unary("SelectStation", PlanningServer.SelectStation)},
		{MethodName: "GetBoard", Handler: unary("GetBoard", PlanningServer.GetBoard)},
		{MethodName: "RefreshBoard", Handler: unary("RefreshBoard", PlanningServer.RefreshBoard)},
		{MethodName: "ListRules", Handler: unary("ListRules", PlanningServer.ListRules)},
		{MethodName: "AddRule", Handler: unary("AddRule", PlanningServer.AddRule)},
		{MethodName: "RemoveRule", Handler: unary("RemoveRule", PlanningServer.RemoveRule)},
		{MethodName: "ClearRules", Handler: unary("ClearRules", PlanningServer.ClearRules)},
		{MethodName: "GeneratePlan", Handler: unary("GeneratePlan", PlanningServer.GeneratePlan)},
		{MethodName: "PredictConflicts", Handler: unary("PredictConflicts", PlanningServer.PredictConflicts)},
		{MethodName: "ApprovePlan", Handler: unary("ApprovePlan", PlanningServer.ApprovePlan)},
		{MethodName: "AuditTrail", Handler: unary("AuditTrail", PlanningServer.AuditTrail)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "saarathi/v1/planning.proto",
}

// RegisterPlanningServiceServer registers srv on s.
func RegisterPlanningServiceServer(s grpc.ServiceRegistrar, srv PlanningServer) {
	s.RegisterService(&PlanningServiceDesc, srv)
}

// Server implements PlanningServer over a control.Controller.
type Server struct {
	ctl *control.Controller
}

// NewPlanningServer wraps ctl.
func NewPlanningServer(ctl *control.Controller) *Server {
	return &Server{ctl: ctl}
}

var _ PlanningServer = (*Server)(nil)

type selectStationRequest struct {
	Code string `json:"code"`
}

type removeRuleRequest struct {
	ID string `json:"id"`
}

type approveRequest struct {
	PlanID  string `json:"plan_id"`
	TrainID string `json:"train_id"`
}

type auditRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) ListStations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(map[string]any{"stations": s.ctl.Stations()}, nil)
}

func (s *Server) SelectStation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req selectStationRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	st, err := s.ctl.SelectStation(ctx, req.Code)
	return respond(map[string]any{"station": st}, err)
}

func (s *Server) GetBoard(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(s.ctl.Board())
}

func (s *Server) RefreshBoard(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(s.ctl.RefreshBoard(ctx))
}

func (s *Server) ListRules(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rules, text, err := s.ctl.Rules()
	if rules == nil {
		rules = []control.RuleView{}
	}
	return respond(map[string]any{"rules": rules, "description": text}, err)
}

func (s *Server) AddRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var env model.RuleEnvelope
	if err := fromStruct(in, &env); err != nil {
		return nil, err
	}
	return respond(s.ctl.AddRule(ctx, env))
}

func (s *Server) RemoveRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req removeRuleRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	err := s.ctl.RemoveRule(ctx, req.ID)
	return respond(map[string]any{"id": req.ID}, err)
}

func (s *Server) ClearRules(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(map[string]any{"removed": s.ctl.ClearRules(ctx)}, nil)
}

func (s *Server) GeneratePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req control.PlanInput
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	return respond(s.ctl.Plan(ctx, req))
}

func (s *Server) PredictConflicts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req control.PlanInput
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	return respond(s.ctl.Predict(ctx, req))
}

func (s *Server) ApprovePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req approveRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	err := s.ctl.Approve(ctx, req.PlanID, req.TrainID)
	return respond(map[string]any{"plan_id": req.PlanID, "train_id": req.TrainID, "approved": err == nil}, err)
}

func (s *Server) AuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req auditRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	events, err := s.ctl.AuditTrail(ctx, req.Limit)
	return respond(map[string]any{"events": events}, err)
}

// respond converts a controller result into a Struct, mapping err onto a
// gRPC status first.
func respond[T any](v T, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if v == nil {
		return out, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil || len(in.GetFields()) == 0 {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

// Client calls the planning service over any client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req encoded as JSON and decodes the reply into
// resp when it is non-nil.
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	b, err := protojson.Marshal(out)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if err := json.Unmarshal(b, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
