package evaluator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"poolguard/internal/pipeline"
)

// Evaluator kinds
const (
	KindHTTP        = "http"
	KindGRPC        = "grpc"
	KindPassthrough = "passthrough"
)

// Config selects and configures the hazard evaluator
type Config struct {
	Kind        string              `yaml:"kind"`
	Endpoint    string              `yaml:"endpoint"`
	HealthURL   string              `yaml:"health_url"`
	Timeout     time.Duration       `yaml:"timeout"`
	JPEGQuality int                 `yaml:"jpeg_quality"`
	Thresholds  pipeline.Thresholds `yaml:"thresholds"`
}

// New creates the evaluator described by cfg
func New(cfg Config) (pipeline.Evaluator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.Thresholds == (pipeline.Thresholds{}) {
		cfg.Thresholds = pipeline.DefaultThresholds()
	}

	switch strings.ToLower(cfg.Kind) {
	case KindHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http evaluator requires an endpoint")
		}
		return NewHTTPEvaluator(cfg), nil
	case KindGRPC:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("grpc evaluator requires an endpoint")
		}
		e, err := NewGRPCEvaluator(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case KindPassthrough:
		return NewPassthrough(), nil
	default:
		return nil, fmt.Errorf("unknown evaluator kind %q", cfg.Kind)
	}
}

// request is the evaluator request body: the frame as base64 JPEG
type request struct {
	Image string `json:"image"`
}

// response is the evaluator response body
type response struct {
	Image        string           `json:"image"`
	Children     []pipeline.Child `json:"children"`
	WarningLevel *int             `json:"warningLevel"`
}

func encodeRequest(frame *pipeline.Frame, quality int) (request, error) {
	data, err := frame.JPEG(quality)
	if err != nil {
		return request{}, err
	}
	return request{Image: base64.StdEncoding.EncodeToString(data)}, nil
}

// decodeResponse converts a response body into a hazard result. A missing
// warning level is derived from the children with thresholds.
func decodeResponse(body []byte, thresholds pipeline.Thresholds) (*pipeline.HazardResult, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed evaluator response: %w", err)
	}

	result := &pipeline.HazardResult{Children: resp.Children}
	if result.Children == nil {
		result.Children = []pipeline.Child{}
	}

	if resp.Image != "" {
		img, err := base64.StdEncoding.DecodeString(resp.Image)
		if err != nil {
			return nil, fmt.Errorf("malformed evaluator image: %w", err)
		}
		result.AnnotatedImage = img
	}

	if resp.WarningLevel == nil {
		result.WarningLevel = thresholds.Classify(result.Children)
	} else {
		level := pipeline.WarningLevel(*resp.WarningLevel)
		if !level.Valid() {
			return nil, fmt.Errorf("malformed evaluator response: warning level %d out of range", *resp.WarningLevel)
		}
		result.WarningLevel = level
	}

	return result, nil
}

// Passthrough is an evaluator that reports no children and low risk for every
// frame. It keeps the pipeline running when no model is deployed.
type Passthrough struct{}

// NewPassthrough creates a passthrough evaluator
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Name implements pipeline.Evaluator
func (p *Passthrough) Name() string { return KindPassthrough }

// Evaluate implements pipeline.Evaluator
func (p *Passthrough) Evaluate(ctx context.Context, frame *pipeline.Frame) (*pipeline.HazardResult, error) {
	if _, err := frame.Image(); err != nil {
		return nil, err
	}
	return &pipeline.HazardResult{Children: []pipeline.Child{}, WarningLevel: pipeline.WarningLow}, nil
}

// IsHealthy implements pipeline.Evaluator
func (p *Passthrough) IsHealthy(ctx context.Context) bool { return true }

// Close implements pipeline.Evaluator
func (p *Passthrough) Close() error { return nil }

var _ pipeline.Evaluator = (*Passthrough)(nil)
