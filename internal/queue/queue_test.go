package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/transaction-guard/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	// unique connection name per test, adapters are cached by name
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig() QueueConfig {
	return QueueConfig{
		Name:              "test:queue",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxAttempts:       3,
		BackoffBase:       50 * time.Millisecond,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	q, err := NewQueue(adapter, testConfig())
	require.NoError(t, err)

	_, err = q.PublishJSON(ctx, "job-1", map[string]string{"file_path": "files/a.csv"}, map[string]string{"type": "ingest"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}, nil))
	defer q.Stop(time.Second)

	select {
	case msg := <-received:
		var data map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "files/a.csv", data["file_path"])
		assert.Equal(t, "ingest", msg.Metadata["type"])
		assert.Equal(t, "job-1", msg.Key)
		assert.Equal(t, 0, msg.Attempts)
		assert.Equal(t, 1, msg.Attempt())
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	assert.Eventually(t, func() bool {
		stats, err := q.GetStats(ctx)
		return err == nil && stats.PendingMessages == 0 && stats.ProcessedCount == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueue_NewQueueTwiceOnSameGroup(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, testConfig())
	require.NoError(t, err)
	_, err = NewQueue(adapter, testConfig())
	require.NoError(t, err)

	_, err = NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_RetryWithBackoff(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	q, err := NewQueue(adapter, testConfig())
	require.NoError(t, err)

	_, err = q.Publish(ctx, "job-retry", []byte("payload"), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var attempts []int
	var seen []time.Time
	var failed atomic.Int32
	done := make(chan struct{})

	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, msg.Attempt())
		seen = append(seen, time.Now())
		assert.Equal(t, "job-retry", msg.Key)
		assert.Equal(t, "payload", string(msg.Data))
		if msg.Attempt() < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, func(ctx context.Context, msg *Message, err error) {
		failed.Add(1)
	}))
	defer q.Stop(time.Second)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("message was not retried to success")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.GreaterOrEqual(t, seen[1].Sub(seen[0]), 50*time.Millisecond)
	assert.GreaterOrEqual(t, seen[2].Sub(seen[1]), 100*time.Millisecond)
	assert.Zero(t, failed.Load())

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RetriedCount)
}

func TestQueue_ExhaustedAttemptsRunFailureHookOnce(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)

	_, err = q.Publish(ctx, "job-bad", []byte("payload"), map[string]string{"type": "ingest"})
	require.NoError(t, err)

	var calls atomic.Int32
	hookErr := make(chan error, 2)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		calls.Add(1)
		return errors.New("malformed file")
	}, func(ctx context.Context, msg *Message, err error) {
		assert.Equal(t, "job-bad", msg.Key)
		assert.Equal(t, 2, msg.Attempt())
		hookErr <- err
	}))
	defer q.Stop(time.Second)

	select {
	case err := <-hookErr:
		assert.EqualError(t, err, "malformed file")
	case <-time.After(3 * time.Second):
		t.Fatal("failure hook not called")
	}

	assert.Eventually(t, func() bool {
		stats, err := q.GetStats(ctx)
		return err == nil && stats.PendingMessages == 0 && stats.DeadLetters == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, mr.Exists(TerminalMarkerKey("job-bad")))
	assert.Len(t, hookErr, 0)
}

func TestQueue_FailIsIdempotentPerKey(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	q, err := NewQueue(adapter, testConfig())
	require.NoError(t, err)

	var calls atomic.Int32
	q.onFailed = func(ctx context.Context, msg *Message, err error) { calls.Add(1) }

	id, err := q.Publish(ctx, "job-dup", []byte("x"), nil)
	require.NoError(t, err)

	// two deliveries of the same job, for example one reclaimed while the other finished
	first := &Message{ID: id, Key: "job-dup", Attempts: 2, queue: q}
	second := &Message{ID: id, Key: "job-dup", Attempts: 2, queue: q}
	q.fail(ctx, first, errors.New("boom"))
	q.fail(ctx, second, errors.New("boom"))

	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_ReclaimCountsAsAttempt(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.VisibilityTimeout = 100 * time.Millisecond
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)

	_, err = q.Publish(ctx, "job-crash", []byte("x"), nil)
	require.NoError(t, err)

	// a worker that reads the message and dies before acking
	msgs, err := adapter.XReadGroup(ctx, cfg.ConsumerGroup, "crashed-consumer", cfg.Name, ">", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	got := make(chan *Message, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		got <- msg
		return nil
	}, nil))
	defer q.Stop(time.Second)

	select {
	case msg := <-got:
		assert.Equal(t, "job-crash", msg.Key)
		assert.Equal(t, 1, msg.Attempts)
		assert.Equal(t, 2, msg.Attempt())
	case <-time.After(3 * time.Second):
		t.Fatal("stuck message not reclaimed")
	}
}

func TestQueue_ReclaimBeyondLimitFailsWithoutHandler(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.VisibilityTimeout = 100 * time.Millisecond
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)

	_, err = q.Publish(ctx, "job-lost", []byte("x"), nil)
	require.NoError(t, err)
	_, err = adapter.XReadGroup(ctx, cfg.ConsumerGroup, "crashed-consumer", cfg.Name, ">", 1)
	require.NoError(t, err)

	var handled atomic.Int32
	hookErr := make(chan error, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		handled.Add(1)
		return nil
	}, func(ctx context.Context, msg *Message, err error) {
		hookErr <- err
	}))
	defer q.Stop(time.Second)

	select {
	case err := <-hookErr:
		assert.ErrorIs(t, err, ErrAttemptsExhausted)
	case <-time.After(3 * time.Second):
		t.Fatal("failure hook not called")
	}
	assert.Zero(t, handled.Load())
}

func TestQueue_Backoff(t *testing.T) {
	_, adapter := setupTestRedis(t)

	cfg := testConfig()
	cfg.BackoffBase = 5 * time.Second
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, q.Backoff(1))
	assert.Equal(t, 10*time.Second, q.Backoff(2))
	assert.Equal(t, 20*time.Second, q.Backoff(3))
	assert.Equal(t, 5*time.Second, q.Backoff(0))
}

func TestQueue_Defaults(t *testing.T) {
	_, adapter := setupTestRedis(t)

	q, err := NewQueue(adapter, QueueConfig{Name: "defaults"})
	require.NoError(t, err)

	cfg := q.Config()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.BackoffBase)
	assert.Equal(t, "default-group", cfg.ConsumerGroup)
	assert.Equal(t, 10, cfg.Concurrency)
}

func TestMessage_AckTwice(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	q, err := NewQueue(adapter, testConfig())
	require.NoError(t, err)

	msg := &Message{ID: "0-1", queue: q}
	require.NoError(t, msg.Ack(ctx))
	assert.ErrorIs(t, msg.Ack(ctx), ErrAlreadyAcked)
}
