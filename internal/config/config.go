package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"cleaning-status-filter-go/internal/geo"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig возвращается, если конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultSettingsPath путь к файлу настроек по умолчанию
const DefaultSettingsPath = "settings.yaml"

// Config структура конфигурации приложения
type Config struct {
	LogLevel        string                `yaml:"log_level" json:"log_level" validate:"oneof=debug info warning error"`
	HTTP            HTTPConfig            `yaml:"http" json:"http"`
	GRPC            GRPCConfig            `yaml:"grpc" json:"grpc"`
	MirrorDetection MirrorDetectionConfig `yaml:"mirror_detection" json:"mirror_detection"`
	NoCleaningAreas []map[string]any      `yaml:"no_cleaning_areas" json:"no_cleaning_areas"`
	Redis           RedisConfig           `yaml:"redis" json:"redis"`
	Database        DatabaseConfig        `yaml:"database" json:"database"`

	// ExclusionAreas заполняется при загрузке из NoCleaningAreas
	ExclusionAreas []orb.Polygon `yaml:"-" json:"-"`
}

// HTTPConfig HTTP API и эндпоинт метрик Prometheus
type HTTPConfig struct {
	Port        int    `yaml:"port" json:"port" validate:"gte=1024,lte=65535"`
	Environment string `yaml:"environment" json:"environment"`
}

// GRPCConfig сервис gRPC health
type GRPCConfig struct {
	Port int `yaml:"port" json:"port" validate:"gte=1024,lte=65535"`
}

// MirrorDetectionConfig параметры определения положения зеркала
type MirrorDetectionConfig struct {
	YUpThreshold           *float64    `yaml:"y_up_threshold" json:"y_up_threshold" validate:"required,gte=0,lte=1"`
	YDownThreshold         *float64    `yaml:"y_down_threshold" json:"y_down_threshold" validate:"required,gte=0,lte=1"`
	RequiredStableReadings int         `yaml:"required_stable_readings" json:"required_stable_readings" validate:"gte=1"`
	IntervalS              float64     `yaml:"interval_s" json:"interval_s" validate:"gt=0"`
	IndicatorClass         string      `yaml:"indicator_class" json:"indicator_class" validate:"required"`
	Model                  ModelConfig `yaml:"model" json:"model"`
}

// Thresholds возвращает пороги; до Validate отсутствующий порог равен NaN
func (c MirrorDetectionConfig) Thresholds() (up, down float64) {
	return valueOrNaN(c.YUpThreshold), valueOrNaN(c.YDownThreshold)
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Interval возвращает минимальный интервал между запусками модели
func (c MirrorDetectionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalS * float64(time.Second))
}

// ModelConfig параметры сервиса модели детекции
type ModelConfig struct {
	BaseURL             string  `yaml:"base_url" json:"base_url" validate:"required,url"`
	TimeoutS            int     `yaml:"timeout_s" json:"timeout_s" validate:"gt=0"`
	WeightsPath         string  `yaml:"weights_path" json:"weights_path" validate:"required"`
	Device              string  `yaml:"device" json:"device"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
	IouThreshold        float64 `yaml:"iou_threshold" json:"iou_threshold" validate:"gte=0,lte=1"`
	FP16                bool    `yaml:"fp16" json:"fp16"`
	NMSAgnostic         bool    `yaml:"nms_agnostic" json:"nms_agnostic"`
	InferenceSize       []int   `yaml:"inference_size" json:"inference_size" validate:"len=2"`
}

// RedisConfig параметры потоков Valkey
type RedisConfig struct {
	Host                        string   `yaml:"host" json:"host" validate:"required"`
	Port                        int      `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	StreamIDs                   []string `yaml:"stream_ids" json:"stream_ids" validate:"min=1,dive,required"`
	InputStreamPrefix           string   `yaml:"input_stream_prefix" json:"input_stream_prefix" validate:"required"`
	OutputStreamPrefix          string   `yaml:"output_stream_prefix" json:"output_stream_prefix" validate:"required"`
	DetectionOutputStreamPrefix string   `yaml:"detection_output_stream_prefix" json:"detection_output_stream_prefix" validate:"required"`
	MaxStreamLength             int64    `yaml:"max_stream_length" json:"max_stream_length" validate:"gte=1"`
	BlockMs                     int      `yaml:"block_ms" json:"block_ms" validate:"gte=1"`
}

// Addr возвращает адрес сервера Valkey
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputStream возвращает ключ потока пересылки для streamID
func (c RedisConfig) OutputStream(streamID string) string {
	return c.OutputStreamPrefix + ":" + streamID
}

// DetectionOutputStream возвращает ключ потока детекций для streamID
func (c RedisConfig) DetectionOutputStream(streamID string) string {
	return c.DetectionOutputStreamPrefix + ":" + streamID
}

// InputStreams возвращает ключи входных потоков
func (c RedisConfig) InputStreams() []string {
	keys := make([]string, len(c.StreamIDs))
	for i, id := range c.StreamIDs {
		keys[i] = c.InputStreamPrefix + ":" + id
	}
	return keys
}

// DatabaseConfig конфигурация базы данных для журнала переключений
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     string `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// DSN строка подключения к PostgreSQL
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	cfg := &Config{LogLevel: "warning"}

	cfg.HTTP.Port = 8000
	cfg.HTTP.Environment = "development"
	cfg.GRPC.Port = 9090

	cfg.MirrorDetection.RequiredStableReadings = 5
	cfg.MirrorDetection.IntervalS = 1
	cfg.MirrorDetection.IndicatorClass = "mirror"
	cfg.MirrorDetection.Model = ModelConfig{
		BaseURL:             "http://localhost:8001",
		TimeoutS:            30,
		Device:              "cpu",
		ConfidenceThreshold: 0.25,
		IouThreshold:        0.45,
		NMSAgnostic:         true,
		InferenceSize:       []int{640, 640},
	}

	cfg.Redis = RedisConfig{
		Host:                        "localhost",
		Port:                        6379,
		StreamIDs:                   []string{"stream1"},
		InputStreamPrefix:           "videosource",
		OutputStreamPrefix:          "cleaningstatusfilter",
		DetectionOutputStreamPrefix: "cleaningstatusfilterdetection",
		MaxStreamLength:             10,
		BlockMs:                     2000,
	}

	cfg.Database = DatabaseConfig{
		Host:    "localhost",
		Port:    "5432",
		Name:    "cleaning_status",
		User:    "postgres",
		SSLMode: "disable",
	}

	return cfg
}

// LoadConfig загружает конфигурацию из settings.yaml и переменных окружения.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig() (*Config, error) {
	return Load(getEnv("SETTINGS_PATH", DefaultSettingsPath))
}

// Load загружает конфигурацию из указанного файла. Отсутствующий файл не является ошибкой.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию и разбирает зоны исключения
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if up, down := c.MirrorDetection.Thresholds(); up > down {
		return fmt.Errorf("%w: `y_up_threshold` needs to be smaller than or equal to `y_down_threshold` (y is anchored at the image top)", ErrInvalidConfig)
	}

	areas := make([]orb.Polygon, 0, len(c.NoCleaningAreas))
	for i, area := range c.NoCleaningAreas {
		raw, err := json.Marshal(area)
		if err != nil {
			return fmt.Errorf("%w: no_cleaning_areas[%d]: %v", ErrInvalidConfig, i, err)
		}
		polygon, err := geo.ParsePolygon(raw)
		if err != nil {
			return fmt.Errorf("%w: no_cleaning_areas[%d]: %w", ErrInvalidConfig, i, err)
		}
		areas = append(areas, polygon)
	}
	c.ExclusionAreas = areas

	return nil
}

// applyEnv накладывает переменные окружения; вложенность задается через "__"
func applyEnv(cfg *Config) error {
	var errs []error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setFloatPtr := func(key string, dst **float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = &f
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setString("LOG_LEVEL", &cfg.LogLevel)
	setInt("HTTP__PORT", &cfg.HTTP.Port)
	setString("HTTP__ENVIRONMENT", &cfg.HTTP.Environment)
	setInt("GRPC__PORT", &cfg.GRPC.Port)

	md := &cfg.MirrorDetection
	setFloatPtr("MIRROR_DETECTION__Y_UP_THRESHOLD", &md.YUpThreshold)
	setFloatPtr("MIRROR_DETECTION__Y_DOWN_THRESHOLD", &md.YDownThreshold)
	setInt("MIRROR_DETECTION__REQUIRED_STABLE_READINGS", &md.RequiredStableReadings)
	setFloat("MIRROR_DETECTION__INTERVAL_S", &md.IntervalS)
	setString("MIRROR_DETECTION__INDICATOR_CLASS", &md.IndicatorClass)
	setString("MIRROR_DETECTION__MODEL__BASE_URL", &md.Model.BaseURL)
	setInt("MIRROR_DETECTION__MODEL__TIMEOUT_S", &md.Model.TimeoutS)
	setString("MIRROR_DETECTION__MODEL__WEIGHTS_PATH", &md.Model.WeightsPath)
	setString("MIRROR_DETECTION__MODEL__DEVICE", &md.Model.Device)
	setFloat("MIRROR_DETECTION__MODEL__CONFIDENCE_THRESHOLD", &md.Model.ConfidenceThreshold)
	setFloat("MIRROR_DETECTION__MODEL__IOU_THRESHOLD", &md.Model.IouThreshold)
	setBool("MIRROR_DETECTION__MODEL__FP16", &md.Model.FP16)
	setBool("MIRROR_DETECTION__MODEL__NMS_AGNOSTIC", &md.Model.NMSAgnostic)

	if v := os.Getenv("NO_CLEANING_AREAS"); v != "" {
		var areas []map[string]any
		if err := json.Unmarshal([]byte(v), &areas); err != nil {
			errs = append(errs, fmt.Errorf("NO_CLEANING_AREAS: %w", err))
		} else {
			cfg.NoCleaningAreas = areas
		}
	}

	setString("REDIS__HOST", &cfg.Redis.Host)
	setInt("REDIS__PORT", &cfg.Redis.Port)
	if v := os.Getenv("REDIS__STREAM_IDS"); v != "" {
		cfg.Redis.StreamIDs = strings.Split(v, ",")
	}
	setString("REDIS__INPUT_STREAM_PREFIX", &cfg.Redis.InputStreamPrefix)
	setString("REDIS__OUTPUT_STREAM_PREFIX", &cfg.Redis.OutputStreamPrefix)
	setString("REDIS__DETECTION_OUTPUT_STREAM_PREFIX", &cfg.Redis.DetectionOutputStreamPrefix)
	if v := os.Getenv("REDIS__MAX_STREAM_LENGTH"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS__MAX_STREAM_LENGTH: %w", err))
		} else {
			cfg.Redis.MaxStreamLength = n
		}
	}
	setInt("REDIS__BLOCK_MS", &cfg.Redis.BlockMs)

	setBool("DATABASE__ENABLED", &cfg.Database.Enabled)
	setString("DATABASE__HOST", &cfg.Database.Host)
	setString("DATABASE__PORT", &cfg.Database.Port)
	setString("DATABASE__NAME", &cfg.Database.Name)
	setString("DATABASE__USER", &cfg.Database.User)
	setString("DATABASE__PASSWORD", &cfg.Database.Password)
	setString("DATABASE__SSL_MODE", &cfg.Database.SSLMode)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
