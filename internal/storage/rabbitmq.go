package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hr-agent-go/internal/config"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/tracing"
)

var rabbitTracer = otel.Tracer("hr-agent-go/storage/rabbitmq")

// IngestTask 文档摄取任务消息
type IngestTask struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Category   string `json:"category,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
	// URI 待摄取文件的路径
	URI string `json:"uri"`
}

// TaskQueue 摄取任务队列接口
type TaskQueue interface {
	// PublishIngestTask 发布一条摄取任务
	PublishIngestTask(ctx context.Context, task *IngestTask) error

	// ConsumeIngestTasks 以workers个并发工作协程消费任务，
	// handler返回错误时消息被Nack且不重新入队。阻塞直到ctx取消。
	ConsumeIngestTasks(ctx context.Context, workers int, handler func(context.Context, *IngestTask) error) error

	// Close 关闭连接
	Close() error
}

// 确保RabbitMQ实现了TaskQueue接口
var _ TaskQueue = (*RabbitMQ)(nil)

// RabbitMQ 摄取任务队列的RabbitMQ实现
type RabbitMQ struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	cfg       *config.RabbitMQConfig
	publishMu sync.Mutex
}

// NewRabbitMQ 建立连接并声明摄取交换机、队列和绑定
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接RabbitMQ失败: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开RabbitMQ通道失败: %w", err)
	}

	mq := &RabbitMQ{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
	}

	if err := mq.declareTopology(); err != nil {
		mq.Close()
		return nil, err
	}

	logger.Info().
		Str("exchange", cfg.IngestExchange).
		Str("queue", cfg.IngestQueue).
		Msg("rabbitmq ingest queue ready")
	return mq, nil
}

// declareTopology 声明交换机、队列和绑定
func (mq *RabbitMQ) declareTopology() error {
	if err := mq.channel.ExchangeDeclare(
		mq.cfg.IngestExchange,
		"direct",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("声明交换机失败: %w", err)
	}

	if _, err := mq.channel.QueueDeclare(
		mq.cfg.IngestQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}

	if err := mq.channel.QueueBind(
		mq.cfg.IngestQueue,
		mq.cfg.IngestRoutingKey,
		mq.cfg.IngestExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}

	return nil
}

// PublishIngestTask 发布一条摄取任务，消息持久化
func (mq *RabbitMQ) PublishIngestTask(ctx context.Context, task *IngestTask) error {
	ctx, span := rabbitTracer.Start(ctx, "RabbitMQ.PublishIngestTask",
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", mq.cfg.IngestExchange),
		attribute.String("messaging.routing_key", mq.cfg.IngestRoutingKey),
		attribute.String("document.id", task.DocumentID),
	)

	body, err := json.Marshal(task)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("序列化摄取任务失败: %w", err)
	}

	mq.publishMu.Lock()
	defer mq.publishMu.Unlock()

	err = mq.channel.PublishWithContext(ctx,
		mq.cfg.IngestExchange,
		mq.cfg.IngestRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.DocumentID,
			Body:         body,
		})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布摄取任务失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ConsumeIngestTasks 消费摄取任务。handler处理成功则Ack，
// 失败则Nack不重新入队（由调用方记录失败，避免毒消息循环）。
func (mq *RabbitMQ) ConsumeIngestTasks(ctx context.Context, workers int, handler func(context.Context, *IngestTask) error) error {
	if workers <= 0 {
		workers = 1
	}

	prefetch := mq.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = workers
	}
	if err := mq.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("设置预取数失败: %w", err)
	}

	deliveries, err := mq.channel.Consume(
		mq.cfg.IngestQueue,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("订阅队列失败: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						return
					}
					mq.handleDelivery(ctx, workerID, delivery, handler)
				}
			}
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

// handleDelivery 处理单条消息并确认
func (mq *RabbitMQ) handleDelivery(ctx context.Context, workerID int, delivery amqp.Delivery, handler func(context.Context, *IngestTask) error) {
	msgCtx, span := rabbitTracer.Start(ctx, "RabbitMQ.HandleIngestTask",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source", mq.cfg.IngestQueue),
		attribute.String("messaging.message_id", delivery.MessageId),
		attribute.Int("worker.id", workerID),
	)

	var task IngestTask
	if err := json.Unmarshal(delivery.Body, &task); err != nil {
		logger.Error().Err(err).Str("message_id", delivery.MessageId).Msg("ingest task unmarshal failed, dropping")
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		_ = delivery.Nack(false, false)
		return
	}

	if err := handler(msgCtx, &task); err != nil {
		logger.Error().Err(err).Str("document_id", task.DocumentID).Msg("ingest task failed")
		tracing.RecordRabbitMQNack(span, delivery.MessageId, err.Error())
		_ = delivery.Nack(false, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		logger.Warn().Err(err).Str("document_id", task.DocumentID).Msg("ack failed")
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Close 关闭通道和连接
func (mq *RabbitMQ) Close() error {
	if mq.channel != nil {
		mq.channel.Close()
	}
	if mq.conn != nil {
		return mq.conn.Close()
	}
	return nil
}
