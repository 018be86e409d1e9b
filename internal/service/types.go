package service

import (
	"context"
	"errors"
	"time"

	"cleaning-status-filter-go/pkg/models"
	"cleaning-status-filter-go/pkg/sae"
)

// ErrClassifier оборачивает любую ошибку модели детекции
var ErrClassifier = errors.New("classifier failed")

// Status положение зеркала
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

// AllStatuses перечисляет все статусы
var AllStatuses = []Status{StatusUp, StatusDown, StatusUnknown}

// String возвращает имя статуса
func (s Status) String() string {
	switch s {
	case StatusUp:
		return "UP"
	case StatusDown:
		return "DOWN"
	case StatusUnknown:
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

// MarshalText сериализует статус в JSON как строку
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus разбирает имя статуса
func ParseStatus(s string) (Status, error) {
	switch s {
	case "UP":
		return StatusUp, nil
	case "DOWN":
		return StatusDown, nil
	case "UNKNOWN":
		return StatusUnknown, nil
	}
	return StatusUnknown, errors.New("unknown status " + s)
}

// Classifier модель детекции. Вызов может быть медленным.
type Classifier interface {
	Classify(ctx context.Context, image models.Image) ([]models.Detection, error)
	ClassNames() map[uint32]string
}

// Transition фиксирует смену стабильного статуса
type Transition struct {
	StreamID string
	From     Status
	To       Status
	At       time.Time
	CenterY  *float64
}

// AnnotatedResult результат одного запуска модели
type AnnotatedResult struct {
	Frame         sae.VideoFrame
	Detections    []models.Detection
	ClassNames    map[uint32]string
	InferenceTime time.Duration
	RawStatus     Status
	CenterY       *float64

	// Transition не nil, если этот запуск изменил стабильный статус
	Transition *Transition
}

// Message строит сообщение для выходного потока детекций
func (r *AnnotatedResult) Message() *sae.Message {
	return &sae.Message{
		Frame:           r.Frame,
		Detections:      r.Detections,
		InferenceTimeUs: uint64(r.InferenceTime / time.Microsecond),
		ClassNames:      r.ClassNames,
		Type:            sae.MessageTypeSAE,
	}
}

// StreamStatus снимок состояния потока для API
type StreamStatus struct {
	StreamID      string    `json:"stream_id"`
	Status        Status    `json:"status"`
	LastRawStatus Status    `json:"last_raw_status"`
	MatchCount    int       `json:"consecutive_match_count"`
	LastInference *time.Time `json:"last_inference_time,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}
