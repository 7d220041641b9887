package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Service and method names of the oracle RPC. Requests are a ListValue of
// scenario Structs, responses a DoubleValue collision rate.
const (
	ServiceName    = "scenario.oracle.v1.Oracle"
	evaluateMethod = "/" + ServiceName + "/Evaluate"
)

// Struct field names of one encoded scenario.
const (
	fieldEgoStartLane = "ego_start_lane"
	fieldEgoStartS    = "ego_start_s"
	fieldNPCStartLane = "npc_start_lane"
	fieldNPCStartS    = "npc_start_s"
	fieldEgoDestLane  = "ego_dest_lane"
	fieldEgoDestS     = "ego_dest_s"
	fieldNPCDestLane  = "npc_dest_lane"
	fieldNPCDestS     = "npc_dest_s"
)

// #region client
// GRPCOracle evaluates batches on a remote oracle server.
type GRPCOracle struct {
	conn   *grpc.ClientConn
	invoke grpc.ClientConnInterface
}

// NewGRPCOracle connects to an oracle server at addr.
func NewGRPCOracle(addr string) (*GRPCOracle, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCOracle{conn: conn, invoke: conn}, nil
}

// NewGRPCOracleWithConn uses an existing connection. Close does not close it.
func NewGRPCOracleWithConn(cc grpc.ClientConnInterface) *GRPCOracle {
	return &GRPCOracle{invoke: cc}
}

// Close shuts down a connection opened by NewGRPCOracle.
func (o *GRPCOracle) Close() error {
	if o.conn == nil {
		return nil
	}
	return o.conn.Close()
}

// Evaluate sends batch to the server. A NotFound status maps to ErrNoResults.
func (o *GRPCOracle) Evaluate(ctx context.Context, batch scenario.Batch) (float64, error) {
	req, err := EncodeBatch(batch)
	if err != nil {
		return 0, err
	}
	resp := new(wrapperspb.DoubleValue)
	if err := o.invoke.Invoke(ctx, evaluateMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, fmt.Errorf("%w: %s", ErrNoResults, status.Convert(err).Message())
		}
		return 0, fmt.Errorf("evaluate rpc: %w", err)
	}
	return resp.GetValue(), nil
}

// #endregion client

// #region server
// RegisterOracleServer exposes impl on s.
func RegisterOracleServer(s grpc.ServiceRegistrar, impl Oracle, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.RegisterService(&oracleServiceDesc, &oracleServer{impl: impl, logger: logger})
}

type evaluator interface {
	evaluate(ctx context.Context, req *structpb.ListValue) (*wrapperspb.DoubleValue, error)
}

type oracleServer struct {
	impl   Oracle
	logger *slog.Logger
}

func (s *oracleServer) evaluate(ctx context.Context, req *structpb.ListValue) (*wrapperspb.DoubleValue, error) {
	batch, err := DecodeBatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	fitness, err := s.impl.Evaluate(ctx, batch)
	switch {
	case errors.Is(err, ErrNoResults):
		s.logger.Warn("evaluate: no results", "batch", len(batch), "error", err)
		return nil, status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		s.logger.Error("evaluate failed", "batch", len(batch), "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.logger.Info("evaluate", "batch", len(batch), "fitness", fitness)
	return wrapperspb.Double(fitness), nil
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(evaluator).evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(evaluator).evaluate(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

var oracleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*evaluator)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scenario/oracle/v1/oracle.proto",
}

// #endregion server

// #region codec
// EncodeBatch converts batch to its wire form.
func EncodeBatch(batch scenario.Batch) (*structpb.ListValue, error) {
	values := make([]any, len(batch))
	for i, p := range batch {
		values[i] = map[string]any{
			fieldEgoStartLane: p.EgoStartLane,
			fieldEgoStartS:    p.EgoStartS,
			fieldNPCStartLane: p.NPCStartLane,
			fieldNPCStartS:    p.NPCStartS,
			fieldEgoDestLane:  p.EgoDestLane,
			fieldEgoDestS:     p.EgoDestS,
			fieldNPCDestLane:  p.NPCDestLane,
			fieldNPCDestS:     p.NPCDestS,
		}
	}
	lv, err := structpb.NewList(values)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return lv, nil
}

// DecodeBatch converts the wire form back to a batch.
func DecodeBatch(lv *structpb.ListValue) (scenario.Batch, error) {
	batch := make(scenario.Batch, 0, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("scenario %d: not a struct", i)
		}
		d := fieldDecoder{fields: st.GetFields()}
		p := scenario.Params{
			EgoStartLane: d.str(fieldEgoStartLane),
			EgoStartS:    d.num(fieldEgoStartS),
			NPCStartLane: d.str(fieldNPCStartLane),
			NPCStartS:    d.num(fieldNPCStartS),
			EgoDestLane:  d.str(fieldEgoDestLane),
			EgoDestS:     d.num(fieldEgoDestS),
			NPCDestLane:  d.str(fieldNPCDestLane),
			NPCDestS:     d.num(fieldNPCDestS),
		}
		if len(d.missing) > 0 {
			return nil, fmt.Errorf("scenario %d: missing or mistyped %s", i, strings.Join(d.missing, ", "))
		}
		batch = append(batch, p)
	}
	return batch, nil
}

type fieldDecoder struct {
	fields  map[string]*structpb.Value
	missing []string
}

func (d *fieldDecoder) str(key string) string {
	v, ok := d.fields[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		d.missing = append(d.missing, key)
		return ""
	}
	return v.StringValue
}

func (d *fieldDecoder) num(key string) float64 {
	v, ok := d.fields[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		d.missing = append(d.missing, key)
		return 0
	}
	return v.NumberValue
}

// #endregion codec
