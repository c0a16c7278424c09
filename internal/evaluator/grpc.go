package evaluator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"poolguard/internal/pipeline"
)

const (
	// ServiceName is the fully qualified hazard service name
	ServiceName = "poolguard.hazard.v1.HazardService"
	// EvaluateMethod is the full method name of the unary Evaluate RPC
	EvaluateMethod = "/" + ServiceName + "/Evaluate"
)

// HazardServer is the server side of the hazard service. Requests and
// responses are google.protobuf.Struct messages carrying the same fields as
// the HTTP JSON body.
type HazardServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterHazardServer registers impl on s
func RegisterHazardServer(s grpc.ServiceRegistrar, impl HazardServer) {
	s.RegisterService(&hazardServiceDesc, impl)
}

var hazardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HazardServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(HazardServer).Evaluate(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EvaluateMethod}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(HazardServer).Evaluate(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Metadata: "poolguard/hazard/v1/hazard.proto",
}

// GRPCEvaluator calls a remote hazard service over gRPC
type GRPCEvaluator struct {
	endpoint   string
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	quality    int
	thresholds pipeline.Thresholds

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// NewGRPCEvaluator creates a gRPC evaluator. The connection is established lazily.
func NewGRPCEvaluator(cfg Config, opts ...grpc.DialOption) (*GRPCEvaluator, error) {
	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxResponseSize)),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Endpoint, err)
	}

	log.Printf("[Evaluator] gRPC client created for %s", cfg.Endpoint)
	return &GRPCEvaluator{
		endpoint:   cfg.Endpoint,
		conn:       conn,
		health:     healthpb.NewHealthClient(conn),
		quality:    cfg.JPEGQuality,
		thresholds: cfg.Thresholds,
		healthy:    true,
	}, nil
}

// Name implements pipeline.Evaluator
func (e *GRPCEvaluator) Name() string { return KindGRPC }

// Evaluate implements pipeline.Evaluator
func (e *GRPCEvaluator) Evaluate(ctx context.Context, frame *pipeline.Frame) (*pipeline.HazardResult, error) {
	req, err := encodeRequest(frame, e.quality)
	if err != nil {
		return nil, err
	}

	in, err := structpb.NewStruct(map[string]any{"image": req.Image})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, EvaluateMethod, in, out); err != nil {
		switch status.Code(err) {
		case codes.Unavailable:
			e.setHealthy(false)
			return nil, fmt.Errorf("%w: %v", pipeline.ErrEvaluatorUnavailable, err)
		case codes.DeadlineExceeded, codes.Canceled:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, fmt.Errorf("evaluate rpc failed: %w", err)
	}

	body, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("malformed evaluator response: %w", err)
	}

	e.setHealthy(true)
	return decodeResponse(body, e.thresholds)
}

// IsHealthy checks the standard gRPC health service, caching success for 30 seconds
func (e *GRPCEvaluator) IsHealthy(ctx context.Context) bool {
	e.healthMu.RLock()
	if e.healthy && time.Since(e.lastHealth) < healthCacheTTL {
		e.healthMu.RUnlock()
		return true
	}
	e.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		log.Printf("[Evaluator] Health check failed: %v", err)
		e.setHealthy(false)
		return false
	}

	ok := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	e.setHealthy(ok)
	return ok
}

func (e *GRPCEvaluator) setHealthy(healthy bool) {
	e.healthMu.Lock()
	e.healthy = healthy
	e.lastHealth = time.Now()
	e.healthMu.Unlock()
}

// Close implements pipeline.Evaluator
func (e *GRPCEvaluator) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

var _ pipeline.Evaluator = (*GRPCEvaluator)(nil)
