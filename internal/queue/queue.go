// Package queue is a redis streams work queue with consumer groups,
// redelivery of stuck entries and an optional dead letter stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
	"github.com/pkg/errors"
)

type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Attempts counts earlier deliveries of this entry.
	Attempts int
}

// Decode unmarshals the payload published with PublishJSON.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// MessageHandler processes one entry. nil acks it; an error leaves it pending
// so it is redelivered after the visibility timeout.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

type Queue struct {
	adapter    redis.RedisAdapter
	config     QueueConfig
	log        logger.Logger
	handler    MessageHandler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	processing map[string]*Message
}

type QueueStats struct {
	TotalMessages   int64 `json:"totalMessages"`
	PendingMessages int64 `json:"pendingMessages"`
	ConsumerCount   int64 `json:"consumerCount"`
	DeadLetters     int64 `json:"deadLetters"`
}

func NewQueue(ctx context.Context, adapter redis.RedisAdapter, config QueueConfig, l logger.Logger) (*Queue, error) {
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		return nil, errors.Wrap(err, "queue.NewQueue")
	}

	qctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		adapter:    adapter,
		config:     config,
		log:        l,
		ctx:        qctx,
		cancel:     cancel,
		processing: make(map[string]*Message),
	}, nil
}

func (q *Queue) Config() QueueConfig {
	return q.config
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", errors.Wrap(err, "queue.Publish")
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			q.log.Warn("[queue] trim failed", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "queue.PublishJSON")
	}
	return q.Publish(ctx, jsonData, metadata)
}

// Consume starts the poll loop in the background. Stop ends it.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return errors.New("message handler is required")
	}
	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

func (q *Queue) processMessages() {
	messages, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			q.log.Warn("[queue] read failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		q.handleMessage(q.streamMessageToMessage(streamMsg))
	}
}

// claimStuckMessages takes over entries idle past the visibility timeout,
// including ones a crashed consumer never acked.
func (q *Queue) claimStuckMessages() {
	pending, _, err := q.adapter.XPendingCount(q.ctx, q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == 0 {
		return
	}

	entries, err := q.adapter.XPendingEntries(q.ctx, q.config.Name, q.config.ConsumerGroup, 100)
	if err != nil || len(entries) == 0 {
		return
	}

	deliveries := make(map[string]int64)
	var ids []string
	for _, e := range entries {
		if e.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, e.ID)
			deliveries[e.ID] = e.RetryCount
		}
	}
	if len(ids) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		q.log.Warn("[queue] claim failed", "queue", q.config.Name, "error", err)
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		msg.Attempts = int(deliveries[msg.ID])
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	q.mu.Lock()
	q.processing[msg.ID] = msg
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.processing, msg.ID)
		q.mu.Unlock()
	}()

	if msg.Attempts >= q.config.MaxRetries {
		q.moveToDeadLetterQueue(msg)
		q.ackMessage(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		q.log.Debug("[queue] handler failed, left pending", "id", msg.ID, "attempts", msg.Attempts, "error", err)
		return
	}
	q.ackMessage(msg.ID)
}

func (q *Queue) ackMessage(messageID string) {
	if err := q.adapter.XAck(q.ctx, q.config.Name, q.config.ConsumerGroup, messageID); err != nil {
		q.log.Warn("[queue] ack failed", "id", messageID, "error", err)
	}
}

func (q *Queue) moveToDeadLetterQueue(msg *Message) {
	q.log.Warn("[queue] max retries exceeded", "id", msg.ID, "attempts", msg.Attempts, "dlq", q.config.EnableDLQ)
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"attempts":       msg.Attempts,
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(q.ctx, q.DeadLetterName(), values); err != nil {
		q.log.Error("[queue] dead letter write failed", "id", msg.ID, "error", err)
	}
}

func (q *Queue) streamMessageToMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range streamMsg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == "data":
			msg.Data = []byte(s)
		case k == "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				msg.Timestamp = ts
			}
		case k == "attempts":
			msg.Attempts, _ = strconv.Atoi(s)
		case strings.HasPrefix(k, "meta_"):
			msg.Metadata[strings.TrimPrefix(k, "meta_")] = s
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// InFlight is the number of entries currently inside a handler.
func (q *Queue) InFlight() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.processing)
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, errors.Wrap(err, "queue.GetStats")
	}
	stats := &QueueStats{TotalMessages: total}

	if pending, consumers, err := q.adapter.XPendingCount(ctx, q.config.Name, q.config.ConsumerGroup); err == nil {
		stats.PendingMessages = pending
		stats.ConsumerCount = consumers
	}
	if q.config.EnableDLQ {
		if n, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
			stats.DeadLetters = n
		}
	}
	return stats, nil
}
