// Package metrics содержит метрики Prometheus стадии фильтра.
// Метрики только наблюдают за работой и никак не влияют на логику.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.0025, 0.005, 0.0075, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.25}

// Collector набор метрик фильтра
type Collector struct {
	mirrorPosition          *prometheus.GaugeVec
	stableStatus            *prometheus.GaugeVec
	getDuration             prometheus.Histogram
	inferenceDuration       prometheus.Histogram
	serializationDuration   prometheus.Summary
	deserializationDuration prometheus.Summary
	publishDuration         prometheus.Histogram
	frameCounter            prometheus.Counter
	excludedCounter         prometheus.Counter
}

// New создает метрики и регистрирует их в reg
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mirrorPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cleaning_status_filter_mirror_y_pos",
			Help: "The relative position of the detected mirror in the vertical image dimension",
		}, []string{"stream_id"}),
		stableStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cleaning_status_filter_stable_status",
			Help: "1 for the currently committed mirror status of a stream, 0 otherwise",
		}, []string{"stream_id", "status"}),
		getDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleaning_status_filter_get_duration",
			Help:    "The time it takes to deserialize the proto until returning the tranformed result as a serialized proto",
			Buckets: durationBuckets,
		}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleaning_status_filter_inference_duration",
			Help:    "The time it takes the detection model to process one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		serializationDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "cleaning_status_filter_proto_serialization_duration",
			Help: "The time it takes to create a serialized output proto",
		}),
		deserializationDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "cleaning_status_filter_proto_deserialization_duration",
			Help: "The time it takes to deserialize an input proto",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cleaning_status_filter_redis_publish_duration",
			Help:    "The time it takes to push a message onto the Redis stream",
			Buckets: durationBuckets,
		}),
		frameCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaning_status_filter_frame_counter",
			Help: "How many frames have been consumed from the Redis input stream",
		}),
		excludedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleaning_status_filter_excluded_counter",
			Help: "How many frames were dropped because the camera was inside a no cleaning area",
		}),
	}

	reg.MustRegister(
		c.mirrorPosition,
		c.stableStatus,
		c.getDuration,
		c.inferenceDuration,
		c.serializationDuration,
		c.deserializationDuration,
		c.publishDuration,
		c.frameCounter,
		c.excludedCounter,
	)
	return c
}

// SetMirrorPosition сохраняет последний вертикальный центр зеркала
func (c *Collector) SetMirrorPosition(streamID string, centerY float64) {
	c.mirrorPosition.WithLabelValues(streamID).Set(centerY)
}

// SetStableStatus отмечает текущий стабильный статус потока
func (c *Collector) SetStableStatus(streamID string, current string, all []string) {
	for _, status := range all {
		v := 0.0
		if status == current {
			v = 1
		}
		c.stableStatus.WithLabelValues(streamID, status).Set(v)
	}
}

func (c *Collector) ObserveGet(d time.Duration) {
	c.getDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveInference(d time.Duration) {
	c.inferenceDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveSerialization(d time.Duration) {
	c.serializationDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveDeserialization(d time.Duration) {
	c.deserializationDuration.Observe(d.Seconds())
}

func (c *Collector) ObservePublish(d time.Duration) {
	c.publishDuration.Observe(d.Seconds())
}

func (c *Collector) IncFrames() {
	c.frameCounter.Inc()
}

func (c *Collector) IncExcluded() {
	c.excludedCounter.Inc()
}
