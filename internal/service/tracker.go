package service

import (
	"context"
	"fmt"
	"time"

	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/pkg/models"
	"cleaning-status-filter-go/pkg/sae"

	"github.com/sirupsen/logrus"
)

// TrackerConfig параметры гистерезиса
type TrackerConfig struct {
	YUpThreshold           float64
	YDownThreshold         float64
	RequiredStableReadings int
	Interval               time.Duration
	IndicatorClass         string
}

// NewTrackerConfig берет параметры из конфигурации приложения
func NewTrackerConfig(cfg config.MirrorDetectionConfig) TrackerConfig {
	up, down := cfg.Thresholds()
	return TrackerConfig{
		YUpThreshold:           up,
		YDownThreshold:         down,
		RequiredStableReadings: cfg.RequiredStableReadings,
		Interval:               cfg.Interval(),
		IndicatorClass:         cfg.IndicatorClass,
	}
}

func (c TrackerConfig) validate() error {
	// NaN не проходит ни одно сравнение, поэтому незаданный порог тоже отклоняется
	if !(c.YUpThreshold >= 0 && c.YUpThreshold <= 1 && c.YDownThreshold >= 0 && c.YDownThreshold <= 1) {
		return fmt.Errorf("%w: thresholds must be within [0, 1]", config.ErrInvalidConfig)
	}
	if c.YUpThreshold > c.YDownThreshold {
		return fmt.Errorf("%w: y_up_threshold %.3f is above y_down_threshold %.3f", config.ErrInvalidConfig, c.YUpThreshold, c.YDownThreshold)
	}
	if c.RequiredStableReadings < 1 {
		return fmt.Errorf("%w: required_stable_readings must be at least 1", config.ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", config.ErrInvalidConfig)
	}
	return nil
}

// TrackerState внутреннее состояние трекера
type TrackerState struct {
	LastInference time.Time
	LastRawStatus Status
	MatchCount    int
	StableStatus  Status
}

// Tracker превращает покадровые показания модели в стабильный статус.
// Трекер не потокобезопасен: Evaluate вызывается из одного цикла обработки.
type Tracker struct {
	streamID   string
	cfg        TrackerConfig
	classifier Classifier
	metrics    *metrics.Collector
	logger     *logrus.Logger

	state TrackerState
}

// NewTracker создает трекер для одного потока камеры
func NewTracker(streamID string, cfg TrackerConfig, classifier Classifier, collector *metrics.Collector, logger *logrus.Logger) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		streamID:   streamID,
		cfg:        cfg,
		classifier: classifier,
		metrics:    collector,
		logger:     logger,
	}, nil
}

// State возвращает копию состояния
func (t *Tracker) State() TrackerState {
	return t.state
}

// Evaluate обрабатывает кадр. В пределах интервала модель не вызывается и
// возвращается текущий стабильный статус без результата.
// При ошибке модели состояние не меняется.
func (t *Tracker) Evaluate(ctx context.Context, now time.Time, frame *sae.VideoFrame) (Status, *AnnotatedResult, error) {
	if !t.state.LastInference.IsZero() && now.Sub(t.state.LastInference) < t.cfg.Interval {
		return t.state.StableStatus, nil, nil
	}

	result := &AnnotatedResult{
		Frame:     *frame,
		RawStatus: StatusUnknown,
	}

	data, ok := frame.RawData()
	if !ok {
		t.logger.WithFields(logrus.Fields{
			"stream_id":    t.streamID,
			"timestamp_ms": frame.TimestampUTCMs,
			"width":        frame.Shape.Width,
			"height":       frame.Shape.Height,
			"channels":     frame.Shape.Channels,
			"data_len":     len(frame.FrameData),
		}).Warn("Сообщение не содержит корректных данных кадра")
	} else {
		start := time.Now()
		detections, err := t.classifier.Classify(ctx, models.Image{
			Data:     data,
			Width:    frame.Shape.Width,
			Height:   frame.Shape.Height,
			Channels: frame.Shape.Channels,
		})
		if err != nil {
			return t.state.StableStatus, nil, fmt.Errorf("%w: %w", ErrClassifier, err)
		}
		result.InferenceTime = time.Since(start)
		t.metrics.ObserveInference(result.InferenceTime)

		names := t.classifier.ClassNames()
		result.Detections = detections
		result.ClassNames = names
		result.RawStatus, result.CenterY = t.rawStatus(detections, names)
	}

	t.state.LastInference = now
	t.logger.Debugf("Текущее положение зеркала в потоке %s: %s", t.streamID, result.RawStatus)

	result.Transition = t.update(now, result.RawStatus, result.CenterY)

	return t.state.StableStatus, result, nil
}

// rawStatus определяет статус по одному кадру
func (t *Tracker) rawStatus(detections []models.Detection, names map[uint32]string) (Status, *float64) {
	// Ни одного или несколько зеркал: положение определить нельзя
	if len(detections) != 1 {
		return StatusUnknown, nil
	}

	det := detections[0]
	if name, ok := names[det.ClassID]; !ok || name != t.cfg.IndicatorClass {
		return StatusUnknown, nil
	}

	// y отсчитывается от верхнего края кадра
	centerY := det.BoundingBox.CenterY()
	t.logger.Debugf("mirror_center_y: %.4f", centerY)
	t.metrics.SetMirrorPosition(t.streamID, centerY)

	switch {
	case centerY > t.cfg.YDownThreshold:
		return StatusDown, &centerY
	case centerY < t.cfg.YUpThreshold:
		return StatusUp, &centerY
	}
	// Между порогами
	return StatusUnknown, &centerY
}

// update обновляет счетчик совпадений и при необходимости фиксирует новый стабильный статус
func (t *Tracker) update(now time.Time, raw Status, centerY *float64) *Transition {
	if raw == t.state.LastRawStatus {
		t.state.MatchCount++
	} else {
		t.state.MatchCount = 0
	}
	t.state.LastRawStatus = raw

	if t.state.MatchCount < t.cfg.RequiredStableReadings || raw == t.state.StableStatus {
		return nil
	}

	transition := &Transition{
		StreamID: t.streamID,
		From:     t.state.StableStatus,
		To:       raw,
		At:       now,
		CenterY:  centerY,
	}
	t.state.StableStatus = raw
	t.state.MatchCount = 0

	t.logger.Infof("Положение зеркала в потоке %s изменилось: %s -> %s", t.streamID, transition.From, transition.To)
	return transition
}
