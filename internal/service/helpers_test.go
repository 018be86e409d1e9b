package service

import (
	"context"
	"io"
	"testing"
	"time"

	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/pkg/models"
	"cleaning-status-filter-go/pkg/sae"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var testNames = map[uint32]string{0: "mirror", 1: "non-mirror"}

type fakeClassifier struct {
	results [][]models.Detection
	err     error
	calls   int
}

func (f *fakeClassifier) Classify(_ context.Context, _ models.Image) ([]models.Detection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeClassifier) ClassNames() map[uint32]string {
	return testNames
}

func repeat(n int, dets ...models.Detection) [][]models.Detection {
	out := make([][]models.Detection, n)
	for i := range out {
		out[i] = dets
	}
	return out
}

func makeDetection(centerY float64, classID uint32) models.Detection {
	return models.Detection{
		BoundingBox: models.BoundingBox{
			MinX: 0.1,
			MinY: max(centerY-0.1, 0),
			MaxX: 0.2,
			MaxY: min(centerY+0.1, 1),
		},
		Confidence: 0.9,
		ClassID:    classID,
	}
}

func makeFrame() sae.VideoFrame {
	return sae.VideoFrame{
		Shape:     sae.Shape{Width: 5, Height: 5, Channels: 1},
		FrameData: make([]byte, 25),
	}
}

func testConfig() TrackerConfig {
	return TrackerConfig{
		YUpThreshold:           0.4,
		YDownThreshold:         0.8,
		RequiredStableReadings: 2,
		Interval:               time.Second,
		IndicatorClass:         "mirror",
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testMetrics() *metrics.Collector {
	return metrics.New(prometheus.NewRegistry())
}

func newTestTracker(t *testing.T, classifier Classifier) *Tracker {
	t.Helper()
	tracker, err := NewTracker("stream1", testConfig(), classifier, testMetrics(), testLogger())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tracker
}

// clock выдает заданные моменты времени по очереди
type clock struct {
	times []time.Time
}

func (c *clock) now() time.Time {
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func at(seconds float64) time.Time {
	return time.Unix(2000, 0).Add(time.Duration(seconds * float64(time.Second)))
}

func ticks(seconds ...float64) *clock {
	c := &clock{}
	for _, s := range seconds {
		c.times = append(c.times, at(s))
	}
	return c
}
