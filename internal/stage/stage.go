// Package stage содержит цикл обработки: чтение из входных потоков, фильтр и публикация.
// Сообщения обрабатываются строго по одному в порядке поступления.
package stage

import (
	"context"
	"fmt"
	"time"

	"cleaning-status-filter-go/internal/bus"
	"cleaning-status-filter-go/internal/config"
	"cleaning-status-filter-go/internal/metrics"
	"cleaning-status-filter-go/internal/service"

	"github.com/sirupsen/logrus"
)

// Consumer источник входных сообщений
type Consumer interface {
	Next(ctx context.Context) (bus.Message, error)
}

// Publisher приемник выходных сообщений
type Publisher interface {
	Publish(ctx context.Context, streamKey string, payload []byte) error
}

// Processor фильтр одного сообщения
type Processor interface {
	Process(ctx context.Context, streamID string, payload []byte) (service.FilterResult, error)
}

// Stage цикл обработки сообщений
type Stage struct {
	consumer  Consumer
	publisher Publisher
	filter    Processor
	streams   config.RedisConfig
	metrics   *metrics.Collector
	logger    *logrus.Logger
}

// New создает цикл обработки
func New(consumer Consumer, publisher Publisher, filter Processor, streams config.RedisConfig, collector *metrics.Collector, logger *logrus.Logger) *Stage {
	return &Stage{
		consumer:  consumer,
		publisher: publisher,
		filter:    filter,
		streams:   streams,
		metrics:   collector,
		logger:    logger,
	}
}

// Run обрабатывает сообщения до отмены ctx. Отмена проверяется только между
// сообщениями: начатое сообщение обрабатывается и публикуется полностью.
func (s *Stage) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := s.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to consume message: %w", err)
		}

		if msg.StreamKey == "" {
			continue
		}

		if err := s.handle(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}
}

func (s *Stage) handle(ctx context.Context, msg bus.Message) error {
	streamID := bus.StreamID(msg.StreamKey)
	s.metrics.IncFrames()

	result, err := s.filter.Process(ctx, streamID, msg.Payload)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"stream_key": msg.StreamKey,
			"message_id": msg.ID,
		}).Errorf("Ошибка обработки сообщения, сообщение пропущено: %v", err)
		return nil
	}

	if result.Forward != nil {
		start := time.Now()
		err := s.publisher.Publish(ctx, s.streams.OutputStream(streamID), result.Forward)
		s.metrics.ObservePublish(time.Since(start))
		if err != nil {
			return fmt.Errorf("failed to publish forward message: %w", err)
		}
	}

	if result.Detection != nil {
		if err := s.publisher.Publish(ctx, s.streams.DetectionOutputStream(streamID), result.Detection); err != nil {
			return fmt.Errorf("failed to publish detection message: %w", err)
		}
	}
	return nil
}
