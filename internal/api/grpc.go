package api

import (
	"context"
	"errors"
	"log/slog"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Masterora/agent-arena/internal/arena"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/engine"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "arena.v1.ArenaService"

// Full method names, for clients invoking the service without stubs.
const (
	MethodRunMatch       = "/" + ServiceName + "/RunMatch"
	MethodGetMatch       = "/" + ServiceName + "/GetMatch"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodStreamMatch    = "/" + ServiceName + "/StreamMatch"
)

// ArenaServer is the server API for ArenaService. Messages are
// google.protobuf.Struct documents shaped like the REST JSON bodies.
type ArenaServer interface {
	RunMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamMatch(*structpb.Struct, grpc.ServerStream) error
}

var arenaServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArenaServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunMatch", Handler: unary(MethodRunMatch, ArenaServer.RunMatch)},
		{MethodName: "GetMatch", Handler: unary(MethodGetMatch, ArenaServer.GetMatch)},
		{MethodName: "ListStrategies", Handler: unary(MethodListStrategies, ArenaServer.ListStrategies)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamMatch", Handler: streamMatchHandler, ServerStreams: true},
	},
	Metadata: "arena/v1/arena.proto",
}

type unaryMethod func(ArenaServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ArenaServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ArenaServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamMatchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ArenaServer).StreamMatch(in, stream)
}

// Compile-time interface check.
var _ ArenaServer = (*grpcService)(nil)

type grpcService struct {
	svc *arena.Service
	log *slog.Logger
}

// RunMatch starts a match. With "wait": true it runs inline and returns the
// final match; otherwise the pending match is returned.
func (g *grpcService) RunMatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := runRequestFromStruct(in)
	var (
		m   *domain.Match
		err error
	)
	if in.GetFields()["wait"].GetBoolValue() {
		m, err = g.svc.RunMatchSync(ctx, req)
	} else {
		m, err = g.svc.RunMatch(ctx, req)
	}
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(m)
}

func (g *grpcService) GetMatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	id := f["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id required")
	}
	m, err := g.svc.GetMatch(ctx, id, f["include_logs"].GetBoolValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(m)
}

func (g *grpcService) ListStrategies(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := g.svc.ListStrategies(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	if list == nil {
		list = []domain.StrategySpec{}
	}
	return toStruct(map[string]any{"strategies": list})
}

// StreamMatch sends the match's events until it reaches a terminal state.
// The stream ends early when the client disconnects.
func (g *grpcService) StreamMatch(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return status.Error(codes.InvalidArgument, "id required")
	}

	subID, events := g.svc.Events().Subscribe(id, streamBuffer)
	defer g.svc.Events().Unsubscribe(subID)

	m, err := g.svc.GetMatch(ctx, id, false)
	if err != nil {
		return grpcError(err)
	}
	if m.Status.Terminal() {
		return sendEvent(stream, arena.Event{Type: arena.EventStatus, MatchID: id, Status: m.Status, Error: m.ErrorMessage, Results: m.Results})
	}

	g.log.Info("grpc client subscribed", "match", id, "subID", subID)
	for {
		select {
		case <-ctx.Done():
			g.log.Info("grpc client disconnected", "match", id, "subID", subID)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := sendEvent(stream, ev); err != nil {
				return err
			}
			if ev.Terminal() {
				return nil
			}
		}
	}
}

func sendEvent(stream grpc.ServerStream, ev arena.Event) error {
	st, err := toStruct(ev)
	if err != nil {
		return err
	}
	return stream.SendMsg(st)
}

func runRequestFromStruct(in *structpb.Struct) arena.RunRequest {
	f := in.GetFields()
	req := arena.RunRequest{
		InitialCapital: f["initial_capital"].GetNumberValue(),
		DurationSteps:  int(f["duration_steps"].GetNumberValue()),
		TradingPair:    f["trading_pair"].GetStringValue(),
		Timeframe:      f["timeframe"].GetStringValue(),
		Source:         f["source"].GetStringValue(),
		MarketKind:     f["market_kind"].GetStringValue(),
		Seed:           int64(f["seed"].GetNumberValue()),
	}
	for _, v := range f["strategy_ids"].GetListValue().GetValues() {
		req.StrategyIDs = append(req.StrategyIDs, v.GetStringValue())
	}
	return req
}

// toStruct converts v to a Struct through its JSON form so gRPC payloads
// match the REST bodies field for field.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

// grpcError maps service errors onto gRPC status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case engine.IsConfigError(err), errors.Is(err, domain.ErrInsufficientData):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, arena.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
