package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cleaning-status-filter-go/internal/geo"
	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/pkg/models"
	"cleaning-status-filter-go/pkg/sae"

	"github.com/sirupsen/logrus"
)

// TransitionRecorder сохраняет смены стабильного статуса
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, transition Transition) error
}

// FilterResult выходы фильтра для одного сообщения. nil означает, что в поток ничего не публикуется.
type FilterResult struct {
	Forward   []byte
	Detection []byte
	Status    Status
	Excluded  bool
}

// Option настройка фильтра
type Option func(*Filter)

// WithClock подменяет источник времени
func WithClock(clock func() time.Time) Option {
	return func(f *Filter) {
		f.clock = clock
	}
}

// WithRecorder включает журнал смен статуса
func WithRecorder(recorder TransitionRecorder) Option {
	return func(f *Filter) {
		f.recorder = recorder
	}
}

// Filter решает, какие сообщения уходят в выходные потоки
type Filter struct {
	trackerCfg TrackerConfig
	gate       *geo.Gate
	classifier Classifier
	recorder   TransitionRecorder
	metrics    *metrics.Collector
	logger     *logrus.Logger
	clock      func() time.Time

	// trackers используется только из цикла обработки
	trackers map[string]*Tracker

	mu       sync.RWMutex
	statuses map[string]StreamStatus
}

// NewFilter создает фильтр и по одному трекеру на каждый поток
func NewFilter(trackerCfg TrackerConfig, streamIDs []string, gate *geo.Gate, classifier Classifier, collector *metrics.Collector, logger *logrus.Logger, opts ...Option) (*Filter, error) {
	f := &Filter{
		trackerCfg: trackerCfg,
		gate:       gate,
		classifier: classifier,
		metrics:    collector,
		logger:     logger,
		clock:      time.Now,
		trackers:   make(map[string]*Tracker),
		statuses:   make(map[string]StreamStatus),
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, id := range streamIDs {
		if _, err := f.tracker(id); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Process обрабатывает одно сообщение из потока streamID
func (f *Filter) Process(ctx context.Context, streamID string, payload []byte) (FilterResult, error) {
	start := time.Now()
	defer func() {
		f.metrics.ObserveGet(time.Since(start))
	}()

	decodeStart := time.Now()
	msg, err := sae.Unmarshal(payload)
	f.metrics.ObserveDeserialization(time.Since(decodeStart))
	if err != nil {
		return FilterResult{}, fmt.Errorf("failed to decode message: %w", err)
	}

	// В зонах без очистки ничего не публикуется
	var location *models.Point
	if p, ok := msg.Frame.Location(); ok {
		location = &p
	}
	if f.gate.IsExcluded(location) {
		f.metrics.IncExcluded()
		f.logger.Debugf("Камера потока %s находится в зоне без очистки: (%.6f, %.6f)", streamID, location.Lon, location.Lat)
		return FilterResult{Excluded: true}, nil
	}

	tracker, err := f.tracker(streamID)
	if err != nil {
		return FilterResult{}, err
	}

	now := f.clock()
	status, annotated, err := tracker.Evaluate(ctx, now, &msg.Frame)
	if err != nil {
		return FilterResult{}, fmt.Errorf("stream %s: %w", streamID, err)
	}

	result := FilterResult{Status: status}

	// Исходное сообщение пересылается, пока оборудование опущено
	switch status {
	case StatusDown:
		result.Forward = payload
	case StatusUp, StatusUnknown:
	}

	if annotated != nil {
		encodeStart := time.Now()
		result.Detection = sae.Marshal(annotated.Message())
		f.metrics.ObserveSerialization(time.Since(encodeStart))

		if annotated.Transition != nil {
			f.record(ctx, *annotated.Transition)
		}
	}

	f.snapshot(streamID, tracker.State(), now)
	return result, nil
}

// Statuses возвращает состояние всех потоков
func (f *Filter) Statuses() []StreamStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	statuses := make([]StreamStatus, 0, len(f.statuses))
	for _, s := range f.statuses {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].StreamID < statuses[j].StreamID })
	return statuses
}

// Status возвращает состояние одного потока
func (f *Filter) Status(streamID string) (StreamStatus, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.statuses[streamID]
	return s, ok
}

func (f *Filter) tracker(streamID string) (*Tracker, error) {
	if t, ok := f.trackers[streamID]; ok {
		return t, nil
	}

	t, err := NewTracker(streamID, f.trackerCfg, f.classifier, f.metrics, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker for stream %s: %w", streamID, err)
	}
	f.trackers[streamID] = t
	f.snapshot(streamID, t.State(), time.Time{})
	f.logger.Infof("Создан трекер для потока %s", streamID)
	return t, nil
}

func (f *Filter) record(ctx context.Context, transition Transition) {
	if f.recorder == nil {
		return
	}
	if err := f.recorder.RecordTransition(ctx, transition); err != nil {
		f.logger.Warnf("Не удалось сохранить смену статуса потока %s: %v", transition.StreamID, err)
	}
}

func (f *Filter) snapshot(streamID string, state TrackerState, at time.Time) {
	f.mu.Lock()
	f.statuses[streamID] = StreamStatus{
		StreamID:      streamID,
		Status:        state.StableStatus,
		LastRawStatus: state.LastRawStatus,
		MatchCount:    state.MatchCount,
		LastInference: optionalTime(state.LastInference),
		LastMessageAt: optionalTime(at),
	}
	f.mu.Unlock()

	all := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		all[i] = s.String()
	}
	f.metrics.SetStableStatus(streamID, state.StableStatus.String(), all)
}

// optionalTime возвращает nil для нулевого времени, чтобы поле не попадало в JSON
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
