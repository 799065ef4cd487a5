package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/redis"
)

var (
	ErrAttemptsExhausted = errors.New("delivery attempts exhausted")
	ErrAlreadyAcked      = errors.New("message already acknowledged")
)

const terminalMarkerTTL = 7 * 24 * time.Hour

type Message struct {
	ID string
	// Key identifies the job across redeliveries, the stream ID changes on
	// every retry while the key does not.
	Key       string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Attempts is the number of attempts made before this delivery.
	Attempts int
	acked    atomic.Bool
	queue    *Queue
}

// Attempt is the 1-based number of the current attempt.
func (m *Message) Attempt() int {
	return m.Attempts + 1
}

// Ack acknowledges the delivery so it is never redelivered.
func (m *Message) Ack(ctx context.Context) error {
	if !m.acked.CompareAndSwap(false, true) {
		return ErrAlreadyAcked
	}
	return m.queue.ackMessage(ctx, m.ID)
}

// MessageHandler processes one delivery.
// Return values:
//   - nil: success, the message is acked
//   - error: the attempt failed, the message is retried with backoff or,
//     once attempts are exhausted, handed to the FailureHandler
type MessageHandler func(ctx context.Context, msg *Message) error

// FailureHandler runs once per message key after its last attempt failed.
type FailureHandler func(ctx context.Context, msg *Message, err error)

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxAttempts       int
	BackoffBase       time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	// Concurrency bounds the deliveries handled at once by this consumer.
	Concurrency int
	MaxLen      int64
	EnableDLQ   bool
}

type Queue struct {
	adapter   redis.RedisAdapter
	config    QueueConfig
	handler   MessageHandler
	onFailed  FailureHandler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  chan struct{}
	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	DelayedMessages int64
	DeadLetters     int64
	ConsumerCount   int64
	ProcessedCount  int64
	FailedCount     int64
	RetriedCount    int64
}

// envelope is how a retry waits in the delayed set before it is re-published.
type envelope struct {
	Key      string            `json:"key"`
	Data     string            `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Attempts int               `json:"attempts"`
}

// NewQueue creates a new queue instance
func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 5 * time.Second
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 2 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.Concurrency <= 0 {
		config.Concurrency = int(config.BatchSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter:  adapter,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(chan struct{}, config.Concurrency),
	}

	// BUSYGROUP means the group already exists
	if err := q.initConsumerGroup(ctx); err != nil && !isBusyGroup(err) {
		cancel()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return q, nil
}

func (q *Queue) initConsumerGroup(ctx context.Context) error {
	return q.adapter.XGroupCreateMkStream(ctx, q.config.Name, q.config.ConsumerGroup, "0")
}

func (q *Queue) Config() QueueConfig {
	return q.config
}

// Publish adds a message to the queue. key identifies the job for the
// exactly-once failure hook, an empty key falls back to the stream id.
func (q *Queue) Publish(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	return q.publish(ctx, envelope{Key: key, Data: string(data), Metadata: metadata})
}

// PublishJSON publishes a JSON-encoded message
func (q *Queue) PublishJSON(ctx context.Context, key string, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, key, jsonData, metadata)
}

func (q *Queue) publish(ctx context.Context, env envelope) (string, error) {
	values := map[string]interface{}{
		"key":       env.Key,
		"data":      env.Data,
		"timestamp": time.Now().Unix(),
		"attempts":  env.Attempts,
	}
	for k, v := range env.Metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen)
	}

	return id, nil
}

// Consume starts the consume loop. onFailed may be nil.
func (q *Queue) Consume(handler MessageHandler, onFailed FailureHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	q.handler = handler
	q.onFailed = onFailed
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
			q.promoteDelayed()
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (q *Queue) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return q.config.BackoffBase * time.Duration(1<<uint(n-1))
}

func (q *Queue) delayedKey() string {
	return q.config.Name + ":delayed"
}

func (q *Queue) dlqKey() string {
	return q.config.Name + ":dlq"
}

// promoteDelayed re-publishes retries whose backoff has elapsed.
func (q *Queue) promoteDelayed() {
	due, err := q.adapter.ZPopByScore(q.ctx, q.delayedKey(), float64(time.Now().UnixMilli()), q.config.BatchSize)
	if err != nil {
		logger.Warn("[queue] failed to read delayed messages", "queue", q.config.Name, "error", err)
	}
	for _, member := range due {
		var env envelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			logger.Error("[queue] dropping malformed delayed message", "queue", q.config.Name, "error", err)
			continue
		}
		if _, err := q.publish(q.ctx, env); err != nil {
			logger.Error("[queue] failed to promote delayed message", "queue", q.config.Name, "key", env.Key, "error", err)
			// put it back so the retry is not lost
			_ = q.adapter.ZAdd(q.ctx, q.delayedKey(), float64(time.Now().Add(q.config.PollInterval).UnixMilli()), member)
		}
	}
}

func (q *Queue) freeSlots() int64 {
	free := int64(cap(q.inflight) - len(q.inflight))
	if free > q.config.BatchSize {
		free = q.config.BatchSize
	}
	return free
}

func (q *Queue) processMessages() {
	count := q.freeSlots()
	if count <= 0 {
		return
	}

	messages, err := q.adapter.XReadGroup(
		q.ctx,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		count,
	)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Warn("[queue] read failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		q.dispatch(q.streamMessageToMessage(streamMsg))
	}
}

// claimStuckMessages takes over deliveries left pending longer than the
// visibility timeout, typically by a crashed worker. Each lost delivery
// counts as an attempt.
func (q *Queue) claimStuckMessages() {
	count := q.freeSlots()
	if count <= 0 {
		return
	}

	pending, err := q.adapter.XPending(q.ctx, q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	deliveries := make(map[string]int64)
	var idsToReclaim []string
	for _, p := range pendingExt {
		if p.Idle >= q.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, p.ID)
			deliveries[p.ID] = p.RetryCount
			if int64(len(idsToReclaim)) >= count {
				break
			}
		}
	}
	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, idsToReclaim...)
	if err != nil {
		logger.Warn("[queue] claim failed", "queue", q.config.Name, "error", err)
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		msg.Attempts += int(deliveries[msg.ID])
		logger.Warn("[queue] reclaimed stuck message", "queue", q.config.Name, "id", msg.ID, "key", msg.Key, "attempts", msg.Attempts)
		q.dispatch(msg)
	}
}

func (q *Queue) dispatch(msg *Message) {
	q.inflight <- struct{}{}
	q.wg.Add(1)
	go func() {
		defer func() {
			<-q.inflight
			q.wg.Done()
		}()
		q.handleMessage(msg)
	}()
}

func (q *Queue) handleMessage(msg *Message) {
	// handlers outlive Stop so an in-flight attempt is not failed by shutdown
	base := context.WithoutCancel(q.ctx)

	if msg.Attempts >= q.config.MaxAttempts {
		q.fail(base, msg, ErrAttemptsExhausted)
		return
	}

	ctx, cancel := context.WithTimeout(base, q.config.VisibilityTimeout)
	err := q.handler(ctx, msg)
	cancel()

	if err == nil {
		q.processed.Add(1)
		if ackErr := msg.Ack(base); ackErr != nil && !errors.Is(ackErr, ErrAlreadyAcked) {
			logger.Error("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", ackErr)
		}
		return
	}

	if msg.Attempt() < q.config.MaxAttempts {
		q.retry(base, msg, err)
		return
	}

	q.fail(base, msg, err)
}

func (q *Queue) retry(ctx context.Context, msg *Message, cause error) {
	delay := q.Backoff(msg.Attempt())
	env := envelope{Key: msg.Key, Data: string(msg.Data), Metadata: msg.Metadata, Attempts: msg.Attempt()}
	member, err := json.Marshal(env)
	if err != nil {
		logger.Error("[queue] failed to encode retry", "queue", q.config.Name, "key", msg.Key, "error", err)
		return
	}

	// leave the delivery pending on failure, the reclaim path retries it
	if err := q.adapter.ZAdd(ctx, q.delayedKey(), float64(time.Now().Add(delay).UnixMilli()), string(member)); err != nil {
		logger.Error("[queue] failed to schedule retry", "queue", q.config.Name, "key", msg.Key, "error", err)
		return
	}

	q.retried.Add(1)
	logger.Warn("[queue] attempt failed, retry scheduled",
		"queue", q.config.Name,
		"key", msg.Key,
		"attempt", msg.Attempt(),
		"max_attempts", q.config.MaxAttempts,
		"delay", delay.String(),
		"error", cause)

	if err := msg.Ack(ctx); err != nil && !errors.Is(err, ErrAlreadyAcked) {
		logger.Error("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

// fail runs the failure hook at most once per key, dead-letters and acks.
func (q *Queue) fail(ctx context.Context, msg *Message, cause error) {
	q.failed.Add(1)

	first, err := q.adapter.SetNX(ctx, TerminalMarkerKey(msg.Key), []byte(strconv.FormatInt(time.Now().Unix(), 10)), terminalMarkerTTL)
	if err != nil {
		// without the marker we cannot tell, prefer a duplicate notice over none
		logger.Warn("[queue] failed to set terminal marker", "queue", q.config.Name, "key", msg.Key, "error", err)
		first = true
	}

	if first {
		logger.Error("[queue] message failed permanently",
			"queue", q.config.Name,
			"key", msg.Key,
			"attempts", msg.Attempt(),
			"error", cause)
		if q.onFailed != nil {
			q.onFailed(ctx, msg, cause)
		}
		q.moveToDeadLetterQueue(ctx, msg, cause)
	}

	if err := msg.Ack(ctx); err != nil && !errors.Is(err, ErrAlreadyAcked) {
		logger.Error("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

// TerminalMarkerKey is set once a job reached its failed state.
func TerminalMarkerKey(key string) string {
	return "job:terminal:" + key
}

func (q *Queue) ackMessage(ctx context.Context, messageID string) error {
	return q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, messageID)
}

func (q *Queue) moveToDeadLetterQueue(ctx context.Context, msg *Message, cause error) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"key":            msg.Key,
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"attempts":       msg.Attempt(),
		"error":          fmt.Sprint(cause),
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	}

	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(ctx, q.dlqKey(), values); err != nil {
		logger.Error("[queue] failed to dead-letter message", "queue", q.config.Name, "key", msg.Key, "error", err)
	}
}

func (q *Queue) streamMessageToMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
		queue:    q,
	}

	for k, v := range streamMsg.Values {
		s, _ := v.(string)
		switch k {
		case "key":
			msg.Key = s
		case "data":
			msg.Data = []byte(s)
		case "timestamp":
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Timestamp = time.Unix(unix, 0)
			}
		case "attempts":
			if n, err := strconv.Atoi(s); err == nil {
				msg.Attempts = n
			}
		default:
			if name, ok := strings.CutPrefix(k, "meta_"); ok && name != "" {
				msg.Metadata[name] = s
			}
		}
	}

	if msg.Key == "" {
		msg.Key = msg.ID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	return msg
}

// Stop ends the consume loop and waits for in-flight messages.
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
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	totalMessages, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		TotalMessages:  totalMessages,
		ProcessedCount: q.processed.Load(),
		FailedCount:    q.failed.Load(),
		RetriedCount:   q.retried.Load(),
	}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if delayed, err := q.adapter.ZCard(ctx, q.delayedKey()); err == nil {
		stats.DelayedMessages = delayed
	}
	if dlq, err := q.adapter.XLen(ctx, q.dlqKey()); err == nil {
		stats.DeadLetters = dlq
	}

	return stats, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
