// Package kafka 将会话业务报文抄送到 Kafka (drop copy)，并从 Kafka 注入待发送报文.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/fixengine/config"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/metrics"
	"github.com/wyfcoding/fixengine/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Handler 消费回调.
type Handler func(ctx context.Context, msg kafkago.Message) error

// Writer 抽象 kafkago.Writer，便于测试替换.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Reader 抽象 kafkago.Reader.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type mqMetrics struct {
	produced *prometheus.CounterVec
	consumed *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMQMetrics(m *metrics.Metrics) *mqMetrics {
	if m == nil {
		return nil
	}
	return &mqMetrics{
		produced: m.NewCounterVec(&prometheus.CounterOpts{
			Name: "fix_mq_produced_total",
			Help: "Messages published to the message queue",
		}, []string{"topic", "status"}),
		consumed: m.NewCounterVec(&prometheus.CounterOpts{
			Name: "fix_mq_consumed_total",
			Help: "Messages consumed from the message queue",
		}, []string{"topic", "status"}),
		duration: m.NewHistogramVec(&prometheus.HistogramOpts{
			Name:    "fix_mq_operation_duration_seconds",
			Help:    "Message queue operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic", "operation"}),
	}
}

func (m *mqMetrics) incProduced(topic, status string) {
	if m != nil {
		m.produced.WithLabelValues(topic, status).Inc()
	}
}

func (m *mqMetrics) incConsumed(topic, status string) {
	if m != nil {
		m.consumed.WithLabelValues(topic, status).Inc()
	}
}

func (m *mqMetrics) observe(topic, op string, start time.Time) {
	if m != nil {
		m.duration.WithLabelValues(topic, op).Observe(time.Since(start).Seconds())
	}
}

// Producer 带链路传播、重试与死信队列的生产者.
type Producer struct {
	writer    Writer
	dlqWriter Writer
	topic     string
	retry     retry.Config
	logger    *slog.Logger
	metrics   *mqMetrics
}

// NewProducer 按配置创建生产者，m 为 nil 时不采集指标.
func NewProducer(cfg config.KafkaConfig, logger *logging.Logger, m *metrics.Metrics) *Producer {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	acks := kafkago.RequireAll
	if cfg.RequiredAcks != 0 {
		acks = kafkago.RequiredAcks(cfg.RequiredAcks)
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  attempts,
		RequiredAcks: acks,
		Async:        cfg.Async,
	}
	if cfg.DialTimeout > 0 {
		w.Transport = &kafkago.Transport{DialTimeout: cfg.DialTimeout}
	}

	var dlq Writer
	if cfg.DLQEnabled {
		topic := cfg.DLQTopic
		if topic == "" {
			topic = cfg.Topic + ".dlq"
		}
		dlq = &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
		}
	}

	p := NewProducerWithWriter(w, dlq, cfg.Topic, logger, m)
	p.retry = retry.Config{
		MaxRetries:     cfg.RetryMax,
		InitialBackoff: cfg.RetryInitial,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
	return p
}

// NewProducerWithWriter 使用已有的 Writer，dlq 可为 nil.
func NewProducerWithWriter(w, dlq Writer, topic string, logger *logging.Logger, m *metrics.Metrics) *Producer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Producer{
		writer:    w,
		dlqWriter: dlq,
		topic:     topic,
		logger:    logger.Logger,
		metrics:   newMQMetrics(m),
	}
}

// Publish 发送一条消息，失败时按重试策略重发，最终失败写入死信队列.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error {
	start := time.Now()
	ctx, span := otel.Tracer("kafka-producer").Start(ctx, "Kafka.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	msg := kafkago.Message{
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	err := retry.Retry(ctx, func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, p.retry)
	p.metrics.observe(p.topic, "publish", start)

	if err != nil {
		p.metrics.incProduced(p.topic, "failed")
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "failed to publish message", "topic", p.topic, "error", err)
		if p.dlqWriter != nil {
			if dlqErr := p.dlqWriter.WriteMessages(ctx, msg); dlqErr != nil {
				p.logger.ErrorContext(ctx, "failed to write to DLQ", "error", dlqErr)
			}
		}
		return err
	}

	p.metrics.incProduced(p.topic, "success")
	return nil
}

// Close 关闭主写入器与死信写入器.
func (p *Producer) Close() error {
	var errs []error
	if p.dlqWriter != nil {
		if err := p.dlqWriter.Close(); err != nil {
			p.logger.Error("failed to close DLQ writer", "error", err)
			errs = append(errs, err)
		}
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close writer", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Consumer 消费组读取者，处理成功后提交位点.
type Consumer struct {
	reader  Reader
	topic   string
	logger  *slog.Logger
	metrics *mqMetrics
}

// NewConsumer 订阅 cfg.InboundTopic.
func NewConsumer(cfg config.KafkaConfig, logger *logging.Logger, m *metrics.Metrics) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.InboundTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
	return NewConsumerWithReader(r, cfg.InboundTopic, logger, m)
}

// NewConsumerWithReader 使用已有的 Reader.
func NewConsumerWithReader(r Reader, topic string, logger *logging.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{reader: r, topic: topic, logger: logger.Logger, metrics: newMQMetrics(m)}
}

// Consume 阻塞消费直到 ctx 结束. 处理失败的消息不提交.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	tracer := otel.Tracer("kafka-consumer")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch message", "error", err)
			if err := retry.Wait(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		carrier := propagation.MapCarrier{}
		for _, h := range m.Headers {
			carrier[h.Key] = string(h.Value)
		}
		extracted := otel.GetTextMapPropagator().Extract(ctx, carrier)
		spanCtx, span := tracer.Start(extracted, "Kafka.Consume", trace.WithSpanKind(trace.SpanKindConsumer))

		start := time.Now()
		handleErr := handler(spanCtx, m)
		c.metrics.observe(c.topic, "consume", start)

		if handleErr != nil {
			c.metrics.incConsumed(c.topic, "failed")
			c.logger.ErrorContext(spanCtx, "message handler failed", "error", handleErr, "offset", m.Offset)
			span.SetStatus(codes.Error, handleErr.Error())
			span.End()
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.ErrorContext(spanCtx, "failed to commit offset", "error", err)
		}
		c.metrics.incConsumed(c.topic, "success")
		span.End()
	}
}

// Close 关闭读取者.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
