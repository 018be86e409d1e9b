package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettings = `
log_level: info
mirror_detection:
  y_up_threshold: 0.4
  y_down_threshold: 0.8
  required_stable_readings: 2
  interval_s: 0.5
  model:
    base_url: http://model:8001
    weights_path: /models/mirror.pt
no_cleaning_areas:
  - type: Polygon
    coordinates: [[[10, 50], [11, 50], [11, 51], [10, 51], [10, 50]]]
redis:
  stream_ids: [stream1, stream2]
  output_stream_prefix: forward_output
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func ptr(v float64) *float64 {
	return &v
}

// validConfig возвращает конфигурацию с обязательными полями
func validConfig() *Config {
	cfg := Default()
	cfg.MirrorDetection.YUpThreshold = ptr(0.4)
	cfg.MirrorDetection.YDownThreshold = ptr(0.8)
	cfg.MirrorDetection.Model.WeightsPath = "/models/mirror.pt"
	return cfg
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeSettings(t, testSettings))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	up, down := cfg.MirrorDetection.Thresholds()
	assert.Equal(t, 0.4, up)
	assert.Equal(t, 0.8, down)
	assert.Equal(t, 2, cfg.MirrorDetection.RequiredStableReadings)
	assert.Equal(t, 500*time.Millisecond, cfg.MirrorDetection.Interval())
	assert.Equal(t, "mirror", cfg.MirrorDetection.IndicatorClass)
	assert.Equal(t, "http://model:8001", cfg.MirrorDetection.Model.BaseURL)
	assert.Equal(t, []int{640, 640}, cfg.MirrorDetection.Model.InferenceSize)
	assert.Len(t, cfg.ExclusionAreas, 1)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, []string{"videosource:stream1", "videosource:stream2"}, cfg.Redis.InputStreams())
	assert.Equal(t, "forward_output", cfg.Redis.OutputStreamPrefix)
	assert.Equal(t, "cleaningstatusfilterdetection", cfg.Redis.DetectionOutputStreamPrefix)
}

func TestLoadRequiresThresholds(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "YUpThreshold")

	t.Setenv("MIRROR_DETECTION__Y_UP_THRESHOLD", "0.4")
	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "YDownThreshold")

	t.Setenv("MIRROR_DETECTION__Y_DOWN_THRESHOLD", "0.8")
	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "WeightsPath")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MIRROR_DETECTION__Y_UP_THRESHOLD", "0")
	t.Setenv("MIRROR_DETECTION__Y_DOWN_THRESHOLD", "0.7")
	t.Setenv("MIRROR_DETECTION__MODEL__WEIGHTS_PATH", "/models/mirror.pt")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	up, down := cfg.MirrorDetection.Thresholds()
	assert.Equal(t, 0.0, up)
	assert.Equal(t, 0.7, down)

	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, 5, cfg.MirrorDetection.RequiredStableReadings)
	assert.Equal(t, time.Second, cfg.MirrorDetection.Interval())
	assert.Empty(t, cfg.ExclusionAreas)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("MIRROR_DETECTION__Y_DOWN_THRESHOLD", "0.9")
	t.Setenv("MIRROR_DETECTION__REQUIRED_STABLE_READINGS", "3")
	t.Setenv("REDIS__STREAM_IDS", "a,b,c")
	t.Setenv("NO_CLEANING_AREAS", `[]`)
	t.Setenv("REDIS__MAX_STREAM_LENGTH", "100")

	cfg, err := Load(writeSettings(t, testSettings))
	require.NoError(t, err)

	_, down := cfg.MirrorDetection.Thresholds()
	assert.Equal(t, 0.9, down)
	assert.Equal(t, 3, cfg.MirrorDetection.RequiredStableReadings)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Redis.StreamIDs)
	assert.Empty(t, cfg.ExclusionAreas)
	assert.Equal(t, int64(100), cfg.Redis.MaxStreamLength)
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("MIRROR_DETECTION__INTERVAL_S", "soon")

	_, err := Load(writeSettings(t, testSettings))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"up above down", func(c *Config) {
			c.MirrorDetection.YUpThreshold = ptr(0.9)
			c.MirrorDetection.YDownThreshold = ptr(0.1)
		}},
		{"threshold out of range", func(c *Config) {
			c.MirrorDetection.YDownThreshold = ptr(1.5)
		}},
		{"missing up threshold", func(c *Config) {
			c.MirrorDetection.YUpThreshold = nil
		}},
		{"missing down threshold", func(c *Config) {
			c.MirrorDetection.YDownThreshold = nil
		}},
		{"missing weights path", func(c *Config) {
			c.MirrorDetection.Model.WeightsPath = ""
		}},
		{"negative threshold", func(c *Config) {
			c.MirrorDetection.YUpThreshold = ptr(-0.1)
		}},
		{"zero stable readings", func(c *Config) {
			c.MirrorDetection.RequiredStableReadings = 0
		}},
		{"zero interval", func(c *Config) {
			c.MirrorDetection.IntervalS = 0
		}},
		{"no streams", func(c *Config) {
			c.Redis.StreamIDs = nil
		}},
		{"malformed polygon", func(c *Config) {
			c.NoCleaningAreas = []map[string]any{{
				"type":        "Polygon",
				"coordinates": []any{[]any{[]any{0, 0}, []any{1, 0}, []any{0, 0}}},
			}}
		}},
		{"not a polygon", func(c *Config) {
			c.NoCleaningAreas = []map[string]any{{"type": "Point", "coordinates": []any{1, 2}}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateEqualThresholdsAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.MirrorDetection.YUpThreshold = ptr(0.5)
	cfg.MirrorDetection.YDownThreshold = ptr(0.5)
	assert.NoError(t, cfg.Validate())
}
