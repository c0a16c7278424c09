package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolguard/internal/evaluator"
	"poolguard/internal/pipeline"
	"poolguard/internal/source"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Pipeline.BufferCapacity)
	assert.Equal(t, 50, cfg.Pipeline.CacheCapacity)
	assert.Equal(t, 320, cfg.Pipeline.CanonicalWidth)
	assert.Equal(t, 75, cfg.Pipeline.CanonicalQuality)
	assert.Equal(t, 30*time.Second, cfg.Evaluator.Timeout)
	assert.Equal(t, pipeline.DefaultThresholds(), cfg.Evaluator.Thresholds)
	assert.Equal(t, 10, cfg.Stream.Rate)

	driver := cfg.DriverConfig()
	assert.Equal(t, cfg.Evaluator.Timeout, driver.EvaluateTimeout)
	assert.Equal(t, cfg.Pipeline.GateThreshold, driver.GateThreshold)
}

func TestLoad_LayersFileEnvAndFlags(t *testing.T) {
	path := writeFile(t, "poolguard.yaml", `
source:
  kind: mjpeg
  url: http://camera.local/video.mjpg
  fps: 15
pipeline:
  cache_capacity: 20
  poll_interval: 50ms
evaluator:
  kind: grpc
  endpoint: model:50051
  timeout: 5s
  thresholds:
    high: 0.8
    medium: 4
stream:
  rate: 5
`)
	t.Setenv("POOLGUARD_STREAM_RATE", "12")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_PASSWORD", "pw")
	t.Setenv("JWT_EXPIRY", "1h")

	cfg, err := Load([]string{"-config", path, "-env-file", filepath.Join(t.TempDir(), "missing.env"), "-fps", "20", "-hud"})
	require.NoError(t, err)

	assert.Equal(t, source.KindMJPEG, cfg.Source.Kind)
	assert.Equal(t, "http://camera.local/video.mjpg", cfg.Source.URL)
	assert.Equal(t, 20, cfg.Source.FPS)
	assert.Equal(t, 20, cfg.Pipeline.CacheCapacity)
	assert.Equal(t, 10, cfg.Pipeline.BufferCapacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, evaluator.KindGRPC, cfg.Evaluator.Kind)
	assert.Equal(t, 5*time.Second, cfg.Evaluator.Timeout)
	assert.Equal(t, pipeline.Thresholds{High: 0.8, Medium: 4}, cfg.Evaluator.Thresholds)
	assert.Equal(t, 12, cfg.Stream.Rate)
	assert.True(t, cfg.Stream.HUD)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "pw", cfg.Auth.Password)
	assert.Equal(t, time.Hour, cfg.Auth.JWTExpiry)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "POOLGUARD_EVALUATOR=passthrough\nTELEGRAM_COOLDOWN=5m\n")
	t.Cleanup(func() {
		os.Unsetenv("POOLGUARD_EVALUATOR")
		os.Unsetenv("TELEGRAM_COOLDOWN")
	})

	cfg, err := Load([]string{"-env-file", envFile, "-db", "off"})
	require.NoError(t, err)
	assert.Equal(t, evaluator.KindPassthrough, cfg.Evaluator.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Telegram.Cooldown)
	assert.Empty(t, cfg.Database.Path)
}

func TestLoad_SourceLocationFollowsKind(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.env")

	cfg, err := Load([]string{"-env-file", missing, "-source", "loop", "-source-url", "/data/frames"})
	require.NoError(t, err)
	assert.Equal(t, "/data/frames", cfg.Source.Dir)

	cfg, err = Load([]string{"-env-file", missing, "-source", "axis", "-source-url", "192.168.1.20"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", cfg.Source.Host)

	cfg, err = Load([]string{"-env-file", missing, "-source", "ffmpeg", "-source-url", "rtsp://cam/stream"})
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam/stream", cfg.Source.URL)
}

func TestLoad_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.env")

	_, err := Load([]string{"-env-file", missing, "-config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "pipeline: [1, 2")
	_, err = Load([]string{"-env-file", missing, "-config", bad})
	assert.Error(t, err)

	_, err = Load([]string{"-env-file", missing, "-unknown-flag"})
	assert.Error(t, err)

	t.Setenv("POOLGUARD_FPS", "fast")
	_, err = Load([]string{"-env-file", missing})
	assert.ErrorContains(t, err, "POOLGUARD_FPS")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Source.Kind = "webcam"
	cfg.Pipeline.CacheCapacity = 0
	cfg.Evaluator.Endpoint = ""
	cfg.Evaluator.Thresholds = pipeline.Thresholds{High: 3, Medium: 1}
	cfg.Stream.Rate = 0
	cfg.Telegram.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown source kind "webcam"`,
		"cache capacity",
		"evaluator endpoint",
		"thresholds",
		"stream rate",
		"telegram bot token",
	} {
		assert.ErrorContains(t, err, want)
	}
}
