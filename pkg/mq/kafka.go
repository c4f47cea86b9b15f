// Package mq 提供 Kafka producer/consumer 通用实现，支持按 key 有序并发消费与死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/algotrader/pkg/config"
)

// Handler 消息处理函数
type Handler func(ctx context.Context, msg kafka.Message) error

// MessageWriter kafka.Writer 的最小接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader kafka.Reader 的最小接口
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer Kafka 生产者
type Producer struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewProducer 创建 Kafka 生产者，topic 由每条消息指定
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
	logger.Info("kafka producer created", "brokers", cfg.Brokers)
	return NewProducerWithWriter(writer, logger)
}

// NewProducerWithWriter 使用自定义 writer 创建生产者
func NewProducerWithWriter(writer MessageWriter, logger *slog.Logger) *Producer {
	return &Producer{writer: writer, logger: logger}
}

// Publish 发送原始字节消息
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to send kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	p.logger.DebugContext(ctx, "kafka message sent", "topic", topic, "key", key)
	return nil
}

// SendMessage 将 value 序列化为 JSON 后发送
func (p *Producer) SendMessage(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Publish(ctx, topic, key, data)
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *Producer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *Producer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

type deadLetter struct {
	OriginalTopic  string    `json:"original_topic"`
	OriginalKey    string    `json:"original_key"`
	OriginalValue  string    `json:"original_value"`
	OriginalOffset int64     `json:"original_offset"`
	FailureError   string    `json:"failure_error"`
	FailedAt       time.Time `json:"failed_at"`
}

// Send 将处理失败的消息投递到死信 topic
func (dlq *DeadLetterQueue) Send(ctx context.Context, msg kafka.Message, cause error) error {
	return dlq.producer.SendMessage(ctx, dlq.topic, string(msg.Key), deadLetter{
		OriginalTopic:  msg.Topic,
		OriginalKey:    string(msg.Key),
		OriginalValue:  string(msg.Value),
		OriginalOffset: msg.Offset,
		FailureError:   cause.Error(),
		FailedAt:       time.Now().UTC(),
	})
}

// Consumer Kafka 消费者。相同 key 的消息由同一个 worker 按到达顺序处理。
type Consumer struct {
	reader MessageReader
	topic  string
	dlq    *DeadLetterQueue
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg config.KafkaConfig, topic string, dlq *DeadLetterQueue, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: 10 * time.Second,
		StartOffset:    kafka.LastOffset,
		MaxBytes:       10e6,
	})
	logger.Info("kafka consumer created", "brokers", cfg.Brokers, "topic", topic, "group_id", cfg.GroupID)
	return NewConsumerWithReader(reader, topic, dlq, logger)
}

// NewConsumerWithReader 使用自定义 reader 创建消费者
func NewConsumerWithReader(reader MessageReader, topic string, dlq *DeadLetterQueue, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, topic: topic, dlq: dlq, logger: logger}
}

// Topic 返回订阅的 topic
func (c *Consumer) Topic() string {
	return c.topic
}

// Start 启动拉取循环与 workers 个处理协程，立即返回
func (c *Consumer) Start(ctx context.Context, workers int, handler Handler) {
	if workers <= 0 {
		workers = 1
	}
	ctx, c.cancel = context.WithCancel(ctx)

	queues := make([]chan kafka.Message, workers)
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		c.wg.Add(1)
		go c.work(ctx, queues[i], handler)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				c.logger.ErrorContext(ctx, "failed to fetch kafka message", "topic", c.topic, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			select {
			case queues[partitionFor(msg.Key, workers)] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Consumer) work(ctx context.Context, queue <-chan kafka.Message, handler Handler) {
	defer c.wg.Done()
	for msg := range queue {
		if ctx.Err() != nil {
			// 未提交的消息会在重新平衡后再次投递
			return
		}
		if err := handler(ctx, msg); err != nil {
			c.logger.ErrorContext(ctx, "failed to handle kafka message",
				"topic", msg.Topic, "offset", msg.Offset, "key", string(msg.Key), "error", err)
			if c.dlq != nil {
				if dlqErr := c.dlq.Send(ctx, msg, err); dlqErr != nil {
					c.logger.ErrorContext(ctx, "failed to send message to dead letter queue", "error", dlqErr)
				}
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "failed to commit kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// Close 停止消费并关闭 reader
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func partitionFor(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
