package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// RabbitMQQueue RabbitMQ 队列实现
// 1. 单一 Consumer（所有 Worker 共享同一个 Go Channel）
// 2. 通过 QoS prefetchCount 控制并发
// 3. 手动 Ack/Nack 保证消息可靠性
// 取消标记与内存队列同样是本地 O(1) 集合；Broker 不支持廉价移除，
// 已标记的消息在 Dequeue 反序列化后直接 Ack 丢弃
type RabbitMQQueue struct {
	url       string
	queueName string
	closed    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	// 发布消息用的连接和通道
	publishConn          *amqp.Connection
	publishRabbitChannel *amqp.Channel
	publishMutex         sync.Mutex

	// 消费消息用的连接和通道
	consumeConn          *amqp.Connection
	consumeRabbitChannel *amqp.Channel
	deliveriesGoChannel  <-chan amqp.Delivery

	// RabbitMQ Channel 不是并发安全的，Ack/Nack 需要加锁
	ackMutex sync.Mutex

	// 取消标记集合
	cancelMu sync.Mutex
	canceled map[string]struct{}
}

// NewRabbitMQQueue 创建 RabbitMQ 队列
func NewRabbitMQQueue(url, queueName string, prefetchCount int) (*RabbitMQQueue, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rq := &RabbitMQQueue{
		url:       url,
		queueName: queueName,
		closed:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		canceled:  make(map[string]struct{}),
	}

	// 1. 建立发布连接
	if err := rq.setupPublisher(); err != nil {
		cancel()
		return nil, fmt.Errorf("初始化发布者失败: %w", err)
	}

	// 2. 建立消费连接
	if err := rq.setupConsumer(prefetchCount); err != nil {
		cancel()
		rq.closePublisher()
		return nil, fmt.Errorf("初始化消费者失败: %w", err)
	}

	log.Printf("✓ RabbitMQ 队列初始化成功 (队列: %s)", queueName)

	return rq, nil
}

// setupPublisher 设置发布者连接（用于发送消息）
func (rq *RabbitMQQueue) setupPublisher() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	// 声明持久化队列（幂等操作）
	_, err = ch.QueueDeclare(
		rq.queueName, // name
		true,         // durable: 持久化队列
		false,        // autoDelete
		false,        // exclusive
		false,        // noWait
		nil,          // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("声明队列失败: %w", err)
	}

	rq.publishConn = conn
	rq.publishRabbitChannel = ch

	log.Println("✓ RabbitMQ 发布者连接已建立")
	return nil
}

// setupConsumer 设置消费者连接（用于接收消息）
func (rq *RabbitMQQueue) setupConsumer(prefetchCount int) error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	// 设置 QoS：预取数量与 Worker 池大小一致
	// RabbitMQ 一次最多推送 prefetchCount 条未确认消息，每个 Worker 各拿一条
	err = ch.Qos(
		prefetchCount, // prefetchCount
		0,             // prefetchSize: 0 表示不限制
		false,         // global: 只应用于当前 channel
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	// 启动消费（订阅队列）
	deliveries, err := ch.Consume(
		rq.queueName, // queue
		"consumer-1", // consumer tag
		false,        // autoAck: false 表示手动确认
		false,        // exclusive
		false,        // noLocal
		false,        // noWait
		nil,          // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("启动消费失败: %w", err)
	}

	rq.consumeConn = conn
	rq.consumeRabbitChannel = ch
	rq.deliveriesGoChannel = deliveries

	log.Printf("✓ RabbitMQ 消费者已启动 (prefetchCount=%d)", prefetchCount)
	return nil
}

// Enqueue 将任务加入队列
func (rq *RabbitMQQueue) Enqueue(job *models.Job) error {
	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(rq.ctx, 5*time.Second)
	defer cancel()

	err = rq.publishRabbitChannel.PublishWithContext(
		ctx,
		"",           // exchange: 默认 exchange
		rq.queueName, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)

	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	return nil
}

// Dequeue 从队列取出任务（阻塞）
// 已标记取消的任务在这里 Ack 丢弃，继续等下一条
func (rq *RabbitMQQueue) Dequeue() (*models.Job, error) {
	for {
		select {
		case <-rq.closed:
			return nil, fmt.Errorf("队列已关闭")
		case <-rq.ctx.Done():
			return nil, fmt.Errorf("队列已关闭")
		case delivery, ok := <-rq.deliveriesGoChannel:
			if !ok {
				return nil, fmt.Errorf("消费通道已关闭")
			}

			var job models.Job
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				// 反序列化失败，拒绝消息（不重新入队）
				rq.nackInternal(delivery.DeliveryTag, false)
				return nil, fmt.Errorf("反序列化任务失败: %w", err)
			}

			if rq.consumeCancelMark(job.ID) {
				rq.ackInternal(delivery.DeliveryTag)
				continue // 任务已取消，丢弃
			}

			// 保存 delivery 信息用于后续确认
			job.DeliveryTag = delivery.DeliveryTag
			job.RabbitMQDelivery = &delivery

			return &job, nil
		}
	}
}

// RequestCancel 标记取消意向（O(1)）
func (rq *RabbitMQQueue) RequestCancel(jobID string) {
	rq.cancelMu.Lock()
	defer rq.cancelMu.Unlock()
	rq.canceled[jobID] = struct{}{}
}

// consumeCancelMark 检查并清除取消标记
func (rq *RabbitMQQueue) consumeCancelMark(jobID string) bool {
	rq.cancelMu.Lock()
	defer rq.cancelMu.Unlock()
	if _, ok := rq.canceled[jobID]; ok {
		delete(rq.canceled, jobID)
		return true
	}
	return false
}

// Ack 确认消息（任务处理完成）
func (rq *RabbitMQQueue) Ack(job *models.Job) error {
	if job.RabbitMQDelivery == nil {
		return nil // 不是 RabbitMQ 消息，忽略
	}

	delivery := job.RabbitMQDelivery.(*amqp.Delivery)
	return rq.ackInternal(delivery.DeliveryTag)
}

// Nack 拒绝消息
func (rq *RabbitMQQueue) Nack(job *models.Job, requeue bool) error {
	if job.RabbitMQDelivery == nil {
		return nil
	}

	delivery := job.RabbitMQDelivery.(*amqp.Delivery)
	return rq.nackInternal(delivery.DeliveryTag, requeue)
}

// ackInternal 内部 Ack 实现（带锁保护）
func (rq *RabbitMQQueue) ackInternal(deliveryTag uint64) error {
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()

	return rq.consumeRabbitChannel.Ack(deliveryTag, false)
}

// nackInternal 内部 Nack 实现（带锁保护）
func (rq *RabbitMQQueue) nackInternal(deliveryTag uint64, requeue bool) error {
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()

	return rq.consumeRabbitChannel.Nack(deliveryTag, false, requeue)
}

// Close 关闭队列
func (rq *RabbitMQQueue) Close() error {
	select {
	case <-rq.closed:
		return nil // 已经关闭
	default:
		close(rq.closed)
		rq.cancel()

		if rq.consumeRabbitChannel != nil {
			rq.consumeRabbitChannel.Close()
		}
		if rq.consumeConn != nil {
			rq.consumeConn.Close()
		}

		rq.closePublisher()

		log.Println("✓ RabbitMQ 队列已关闭")
		return nil
	}
}

// closePublisher 关闭发布者连接
func (rq *RabbitMQQueue) closePublisher() {
	if rq.publishRabbitChannel != nil {
		rq.publishRabbitChannel.Close()
	}
	if rq.publishConn != nil {
		rq.publishConn.Close()
	}
}

// GetQueueInfo 获取队列信息（调试用）
func (rq *RabbitMQQueue) GetQueueInfo() (messages, consumers int, err error) {
	q, err := rq.publishRabbitChannel.QueueInspect(rq.queueName)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}
