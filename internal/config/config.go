// Package config loads the poolguard configuration from defaults, an
// optional YAML file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"poolguard/internal/auth"
	"poolguard/internal/evaluator"
	"poolguard/internal/pipeline"
	"poolguard/internal/source"
	"poolguard/internal/telegram"
)

// Config is the complete service configuration
type Config struct {
	Source    source.Config    `yaml:"source"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Evaluator evaluator.Config `yaml:"evaluator"`
	Stream    StreamConfig     `yaml:"stream"`
	HTTP      HTTPConfig       `yaml:"http"`
	Database  DatabaseConfig   `yaml:"database"`
	Auth      auth.Config      `yaml:"auth"`
	Telegram  telegram.Config  `yaml:"telegram"`
}

// PipelineConfig configures the capture buffer and inference loop
type PipelineConfig struct {
	BufferCapacity   int           `yaml:"buffer_capacity"`
	CacheCapacity    int           `yaml:"cache_capacity"`
	GateThreshold    float64       `yaml:"gate_threshold"`
	GateStride       int           `yaml:"gate_stride"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	CanonicalWidth   int           `yaml:"canonical_width"`
	CanonicalQuality int           `yaml:"canonical_quality"`
	JPEGQuality      int           `yaml:"jpeg_quality"`
}

// StreamConfig configures the MJPEG output
type StreamConfig struct {
	Rate int  `yaml:"rate"` // frames per second per client
	HUD  bool `yaml:"hud"`  // draw the risk banner onto published frames
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`
}

// DatabaseConfig configures the alert history store. An empty path disables it.
type DatabaseConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns the built-in configuration
func Default() *Config {
	driver := pipeline.DefaultDriverConfig()
	return &Config{
		Source: source.Config{
			Kind: source.KindLoop,
			Dir:  "./frames",
			FPS:  10,
		},
		Pipeline: PipelineConfig{
			BufferCapacity:   pipeline.DefaultBufferCapacity,
			CacheCapacity:    pipeline.DefaultCacheCapacity,
			GateThreshold:    driver.GateThreshold,
			GateStride:       driver.GateStride,
			PollInterval:     driver.PollInterval,
			CanonicalWidth:   driver.CanonicalWidth,
			CanonicalQuality: driver.CanonicalQuality,
			JPEGQuality:      driver.JPEGQuality,
		},
		Evaluator: evaluator.Config{
			Kind:        evaluator.KindHTTP,
			Endpoint:    "http://localhost:5000/evaluate",
			Timeout:     driver.EvaluateTimeout,
			JPEGQuality: 90,
			Thresholds:  pipeline.DefaultThresholds(),
		},
		Stream: StreamConfig{Rate: 10},
		HTTP:   HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Path:      "poolguard.db",
			Retention: 30 * 24 * time.Hour,
		},
		Auth: auth.Config{
			Username:  "admin",
			JWTExpiry: auth.DefaultTokenExpiry,
		},
		Telegram: telegram.Config{Cooldown: 60 * time.Second},
	}
}

// DriverConfig returns the inference loop configuration
func (c *Config) DriverConfig() pipeline.DriverConfig {
	return pipeline.DriverConfig{
		GateThreshold:    c.Pipeline.GateThreshold,
		GateStride:       c.Pipeline.GateStride,
		PollInterval:     c.Pipeline.PollInterval,
		EvaluateTimeout:  c.Evaluator.Timeout,
		CanonicalWidth:   c.Pipeline.CanonicalWidth,
		CanonicalQuality: c.Pipeline.CanonicalQuality,
		JPEGQuality:      c.Pipeline.JPEGQuality,
	}
}

// Load builds the configuration from args (without the program name).
// A .env file in the working directory is loaded if present; variables
// already set in the environment win over it.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("poolguard", flag.ContinueOnError)
	var (
		configF    = fs.String("config", os.Getenv("POOLGUARD_CONFIG"), "Path to a YAML configuration file")
		envFileF   = fs.String("env-file", ".env", "Path to a .env file (ignored if missing)")
		sourceF    = fs.String("source", "", "Frame source kind (loop|video|mjpeg|axis|ffmpeg)")
		sourceURLF = fs.String("source-url", "", "Frame source URL, device, directory or file")
		fpsF       = fs.Int("fps", 0, "Nominal capture frame rate")
		evalF      = fs.String("evaluator", "", "Evaluator kind (http|grpc|passthrough)")
		endpointF  = fs.String("evaluator-url", "", "Evaluator endpoint")
		rateF      = fs.Int("stream-rate", 0, "MJPEG output frames per second")
		hudF       = fs.Bool("hud", false, "Draw the risk banner onto published frames")
		addrF      = fs.String("addr", "", "HTTP listen address")
		dbF        = fs.String("db", "", "SQLite alert database path (\"off\" disables)")
		dbgF       = fs.Bool("debug", false, "Log request and response bodies")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFileF); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", *envFileF, err)
	}

	cfg := Default()
	if *configF != "" {
		if err := cfg.LoadFile(*configF); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// Flags win over everything, but only when given explicitly
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Kind = *sourceF
		case "source-url":
			cfg.setSourceLocation(*sourceURLF)
		case "fps":
			cfg.Source.FPS = *fpsF
		case "evaluator":
			cfg.Evaluator.Kind = *evalF
		case "evaluator-url":
			cfg.Evaluator.Endpoint = *endpointF
		case "stream-rate":
			cfg.Stream.Rate = *rateF
		case "hud":
			cfg.Stream.HUD = *hudF
		case "addr":
			cfg.HTTP.Addr = *addrF
		case "db":
			cfg.Database.Path = *dbF
		case "debug":
			cfg.HTTP.Debug = *dbgF
		}
	})
	if cfg.Database.Path == "off" {
		cfg.Database.Path = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// setSourceLocation stores loc in the field the current source kind reads
func (c *Config) setSourceLocation(loc string) {
	switch c.Source.Kind {
	case source.KindLoop:
		c.Source.Dir = loc
	case source.KindVideo:
		c.Source.Path = loc
	case source.KindAxis:
		c.Source.Host = loc
	default:
		c.Source.URL = loc
	}
}

// ApplyEnv overlays environment variables onto c
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("POOLGUARD_SOURCE", &c.Source.Kind)
	if v, ok := lookup("POOLGUARD_SOURCE_URL"); ok && v != "" {
		c.setSourceLocation(v)
	}
	str("POOLGUARD_CAMERA_HOST", &c.Source.Host)
	str("POOLGUARD_CAMERA_USER", &c.Source.Username)
	str("POOLGUARD_CAMERA_PASSWORD", &c.Source.Password)
	num("POOLGUARD_FPS", &c.Source.FPS)
	boolean("POOLGUARD_SOURCE_WATCH", &c.Source.Watch)

	num("POOLGUARD_BUFFER_CAPACITY", &c.Pipeline.BufferCapacity)
	num("POOLGUARD_CACHE_CAPACITY", &c.Pipeline.CacheCapacity)
	float("POOLGUARD_GATE_THRESHOLD", &c.Pipeline.GateThreshold)
	duration("POOLGUARD_POLL_INTERVAL", &c.Pipeline.PollInterval)

	str("POOLGUARD_EVALUATOR", &c.Evaluator.Kind)
	str("POOLGUARD_EVALUATOR_URL", &c.Evaluator.Endpoint)
	str("POOLGUARD_EVALUATOR_HEALTH_URL", &c.Evaluator.HealthURL)
	duration("POOLGUARD_EVALUATOR_TIMEOUT", &c.Evaluator.Timeout)
	float("POOLGUARD_THRESHOLD_HIGH", &c.Evaluator.Thresholds.High)
	float("POOLGUARD_THRESHOLD_MEDIUM", &c.Evaluator.Thresholds.Medium)

	num("POOLGUARD_STREAM_RATE", &c.Stream.Rate)
	boolean("POOLGUARD_HUD", &c.Stream.HUD)
	str("POOLGUARD_HTTP_ADDR", &c.HTTP.Addr)
	str("POOLGUARD_DB_PATH", &c.Database.Path)
	duration("POOLGUARD_DB_RETENTION", &c.Database.Retention)

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	duration("JWT_EXPIRY", &c.Auth.JWTExpiry)

	boolean("TELEGRAM_ENABLED", &c.Telegram.Enabled)
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	duration("TELEGRAM_COOLDOWN", &c.Telegram.Cooldown)

	return errors.Join(errs...)
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch strings.ToLower(c.Source.Kind) {
	case source.KindLoop, source.KindVideo, source.KindMJPEG, source.KindAxis, source.KindFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}
	check(c.Source.FPS >= 0, "source fps must not be negative")

	check(c.Pipeline.BufferCapacity > 0, "buffer capacity must be positive")
	check(c.Pipeline.CacheCapacity > 0, "cache capacity must be positive")
	check(c.Pipeline.GateThreshold >= 0, "gate threshold must not be negative")
	check(c.Pipeline.GateStride > 0, "gate stride must be positive")
	check(c.Pipeline.PollInterval > 0, "poll interval must be positive")
	check(c.Pipeline.CanonicalWidth > 0, "canonical width must be positive")
	check(c.Pipeline.CanonicalQuality >= 1 && c.Pipeline.CanonicalQuality <= 100, "canonical quality must be within 1..100")
	check(c.Pipeline.JPEGQuality >= 1 && c.Pipeline.JPEGQuality <= 100, "jpeg quality must be within 1..100")

	switch strings.ToLower(c.Evaluator.Kind) {
	case evaluator.KindHTTP, evaluator.KindGRPC:
		check(c.Evaluator.Endpoint != "", "evaluator endpoint is required for %s", c.Evaluator.Kind)
	case evaluator.KindPassthrough:
	default:
		errs = append(errs, fmt.Errorf("unknown evaluator kind %q", c.Evaluator.Kind))
	}
	check(c.Evaluator.Timeout > 0, "evaluator timeout must be positive")
	th := c.Evaluator.Thresholds
	check(th.High >= 0 && th.High < th.Medium, "thresholds must satisfy 0 <= high < medium (got %v, %v)", th.High, th.Medium)

	check(c.Stream.Rate > 0, "stream rate must be positive")
	check(c.HTTP.Addr != "", "http address is required")
	check(c.Database.Retention >= 0, "database retention must not be negative")

	if err := telegram.ValidateConfig(c.Telegram); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
