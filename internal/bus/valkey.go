package bus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PayloadField поле записи потока, в котором лежит сообщение в base64
const PayloadField = "proto_data_b64"

// Message сообщение, прочитанное из входного потока
type Message struct {
	StreamKey string
	ID        string
	Payload   []byte
}

// StreamID возвращает идентификатор потока: часть ключа после первого ':'
func StreamID(streamKey string) string {
	if _, id, ok := strings.Cut(streamKey, ":"); ok {
		return id
	}
	return streamKey
}

// NewClient создает клиент Valkey
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// ValkeyConsumer читает входные потоки по одному сообщению
type ValkeyConsumer struct {
	client  redis.Cmdable
	streams []string
	lastIDs map[string]string
	block   time.Duration
	logger  *logrus.Logger

	pending []Message
}

// NewValkeyConsumer создает читателя потоков. Читаются только сообщения, пришедшие после запуска.
func NewValkeyConsumer(client redis.Cmdable, streams []string, block time.Duration, logger *logrus.Logger) *ValkeyConsumer {
	lastIDs := make(map[string]string, len(streams))
	for _, s := range streams {
		lastIDs[s] = "$"
	}
	return &ValkeyConsumer{
		client:  client,
		streams: streams,
		lastIDs: lastIDs,
		block:   block,
		logger:  logger,
	}
}

// Next возвращает следующее сообщение. Если за время ожидания ничего не пришло,
// возвращается сообщение с пустым StreamKey.
func (c *ValkeyConsumer) Next(ctx context.Context) (Message, error) {
	if len(c.pending) == 0 {
		if err := c.read(ctx); err != nil {
			return Message{}, err
		}
	}
	if len(c.pending) == 0 {
		return Message{}, nil
	}

	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

func (c *ValkeyConsumer) read(ctx context.Context) error {
	args := make([]string, 0, 2*len(c.streams))
	args = append(args, c.streams...)
	for _, s := range c.streams {
		args = append(args, c.lastIDs[s])
	}

	res, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: args,
		Count:   1,
		Block:   c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read streams: %w", err)
	}

	for _, stream := range res {
		for _, entry := range stream.Messages {
			c.lastIDs[stream.Stream] = entry.ID

			payload, err := DecodePayload(entry.Values)
			if err != nil {
				c.logger.Warnf("Пропущено сообщение %s из %s: %v", entry.ID, stream.Stream, err)
				continue
			}
			c.pending = append(c.pending, Message{StreamKey: stream.Stream, ID: entry.ID, Payload: payload})
		}
	}
	return nil
}

// ValkeyPublisher публикует сообщения в выходные потоки
type ValkeyPublisher struct {
	client redis.Cmdable
	maxLen int64
}

// NewValkeyPublisher создает публикатор; потоки обрезаются примерно до maxLen записей
func NewValkeyPublisher(client redis.Cmdable, maxLen int64) *ValkeyPublisher {
	return &ValkeyPublisher{client: client, maxLen: maxLen}
}

// Publish добавляет сообщение в поток streamKey
func (p *ValkeyPublisher) Publish(ctx context.Context, streamKey string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: p.maxLen,
		Approx: true,
		Values: EncodePayload(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", streamKey, err)
	}
	return nil
}

// EncodePayload упаковывает сообщение в поля записи потока
func EncodePayload(payload []byte) map[string]any {
	return map[string]any{PayloadField: base64.StdEncoding.EncodeToString(payload)}
}

// DecodePayload извлекает сообщение из полей записи потока
func DecodePayload(values map[string]any) ([]byte, error) {
	raw, ok := values[PayloadField]
	if !ok {
		return nil, fmt.Errorf("field %s is missing", PayloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("field %s has type %T", PayloadField, raw)
	}
	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", PayloadField, err)
	}
	return payload, nil
}
