package stage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cleaning-status-filter-go/internal/bus"
	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/internal/geo"
	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/internal/service"
	"cleaning-status-filter-go/pkg/models"
	"cleaning-status-filter-go/pkg/sae"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedConsumer отдает сообщения по списку, затем останавливает цикл
type scriptedConsumer struct {
	messages []bus.Message
	cancel   context.CancelFunc
	err      error
}

func (c *scriptedConsumer) Next(ctx context.Context) (bus.Message, error) {
	if len(c.messages) == 0 {
		if c.err != nil {
			return bus.Message{}, c.err
		}
		c.cancel()
		return bus.Message{}, ctx.Err()
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return msg, nil
}

type published struct {
	key     string
	payload []byte
}

type recordingPublisher struct {
	calls []published
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.calls = append(p.calls, published{key, payload})
	return p.err
}

type stubClassifier struct {
	detections []models.Detection
}

func (s stubClassifier) Classify(context.Context, models.Image) ([]models.Detection, error) {
	return s.detections, nil
}

func (s stubClassifier) ClassNames() map[uint32]string {
	return map[uint32]string{0: "mirror", 1: "non-mirror"}
}

type steppingClock struct {
	next time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

func testStreams() config.RedisConfig {
	streams := config.Default().Redis
	streams.OutputStreamPrefix = "forward_output"
	streams.DetectionOutputStreamPrefix = "mirror_det_output"
	return streams
}

func newFilter(t *testing.T, logger *logrus.Logger, collector *metrics.Collector) *service.Filter {
	t.Helper()
	classifier := stubClassifier{detections: []models.Detection{
		{BoundingBox: models.BoundingBox{MinX: 0.1, MinY: 0.8, MaxX: 0.2, MaxY: 1}, Confidence: 0.9},
	}}
	cfg := service.TrackerConfig{
		YUpThreshold:           0.4,
		YDownThreshold:         0.8,
		RequiredStableReadings: 2,
		Interval:               time.Second,
		IndicatorClass:         "mirror",
	}
	clock := &steppingClock{next: time.Unix(2000, 0), step: 2 * time.Second}
	f, err := service.NewFilter(cfg, []string{"stream1"}, geo.NewGate(nil), classifier, collector, logger, service.WithClock(clock.now))
	require.NoError(t, err)
	return f
}

func frameMessage(timestamp uint64) bus.Message {
	payload := sae.Marshal(&sae.Message{Frame: sae.VideoFrame{
		TimestampUTCMs: timestamp,
		Shape:          sae.Shape{Width: 5, Height: 5, Channels: 1},
		FrameData:      make([]byte, 25),
	}})
	return bus.Message{StreamKey: "videosource:stream1", Payload: payload}
}

func setup(t *testing.T, messages []bus.Message) (*Stage, *scriptedConsumer, *recordingPublisher, context.Context) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	collector := metrics.New(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer := &scriptedConsumer{messages: messages, cancel: cancel}
	publisher := &recordingPublisher{}
	s := New(consumer, publisher, newFilter(t, logger, collector), testStreams(), collector, logger)
	return s, consumer, publisher, ctx
}

func TestRunSmoke(t *testing.T) {
	s, _, publisher, ctx := setup(t, []bus.Message{frameMessage(1), frameMessage(2), frameMessage(3)})

	require.NoError(t, s.Run(ctx))

	var keys []string
	for _, c := range publisher.calls {
		keys = append(keys, c.key)
	}
	// Все детекции уходят в отдельный поток, третье сообщение пересылается
	assert.Equal(t, []string{
		"mirror_det_output:stream1",
		"mirror_det_output:stream1",
		"forward_output:stream1",
		"mirror_det_output:stream1",
	}, keys)

	forwarded, err := sae.Unmarshal(publisher.calls[2].payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), forwarded.Frame.TimestampUTCMs)
}

func TestRunSkipsEmptyAndBrokenMessages(t *testing.T) {
	s, _, publisher, ctx := setup(t, []bus.Message{
		{},
		{StreamKey: "videosource:stream1", Payload: []byte{0x0a, 0x7f}},
		frameMessage(1),
	})

	require.NoError(t, s.Run(ctx))
	require.Len(t, publisher.calls, 1)
	assert.Equal(t, "mirror_det_output:stream1", publisher.calls[0].key)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	s, _, publisher, ctx := setup(t, []bus.Message{frameMessage(1)})
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	require.NoError(t, s.Run(cancelled))
	assert.Empty(t, publisher.calls)
}

func TestRunReturnsConsumerError(t *testing.T) {
	s, consumer, _, ctx := setup(t, nil)
	consumer.err = errors.New("connection reset")

	err := s.Run(ctx)
	assert.ErrorIs(t, err, consumer.err)
}

func TestRunReturnsPublishError(t *testing.T) {
	s, _, publisher, ctx := setup(t, []bus.Message{frameMessage(1)})
	publisher.err = errors.New("read only replica")

	err := s.Run(ctx)
	assert.ErrorIs(t, err, publisher.err)
}
