package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahelsms/orange-gateway/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func TestQueue_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{
		Name:              "test:submit",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = q.PublishJSON(ctx, map[string]string{"message_id": "msg-1"})
	require.NoError(t, err)

	received := make(chan *Job, 1)
	handler := func(ctx context.Context, job *Job) error {
		received <- job
		return nil
	}

	require.NoError(t, q.Consume(handler))

	select {
	case job := <-received:
		var payload map[string]string
		require.NoError(t, json.Unmarshal(job.Data, &payload))
		assert.Equal(t, "msg-1", payload["message_id"])
		assert.Equal(t, 0, job.Attempts)
		assert.False(t, job.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("job not received")
	}

	require.NoError(t, q.Stop(time.Second))
}

func TestQueue_RequiresName(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	_, err := New(adapter, Config{})
	assert.Error(t, err)
}

func TestQueue_Defaults(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{Name: "test:defaults"})
	require.NoError(t, err)
	defer q.Stop(time.Second)

	assert.Equal(t, "test:defaults-group", q.config.ConsumerGroup)
	assert.NotEmpty(t, q.config.ConsumerName)
	assert.Equal(t, 3, q.config.MaxRetries)
	assert.Equal(t, 30*time.Second, q.config.VisibilityTimeout)
	assert.Equal(t, int64(10), q.config.BatchSize)
}

func TestQueue_FailedJobStaysPending(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{
		Name:              "test:retry",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
	})
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	_, err = q.PublishJSON(ctx, map[string]string{"message_id": "msg-1"})
	require.NoError(t, err)

	attempted := make(chan struct{}, 1)
	handler := func(ctx context.Context, job *Job) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return assert.AnError
	}
	require.NoError(t, q.Consume(handler))

	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("job never attempted")
	}

	// the failed job is never acked, so it stays pending for the reclaim pass
	time.Sleep(200 * time.Millisecond)
	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingJobs)
}

func TestQueue_GetStats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{
		Name:          "test:stats",
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
	})
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.PublishJSON(ctx, map[string]int{"count": i})
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalJobs, int64(5))
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{
		Name:          "test:concurrent",
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
	})
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	numGoroutines := 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			_, err := q.PublishJSON(ctx, map[string]int{"id": id})
			assert.NoError(t, err)
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalJobs, int64(numGoroutines))
}

func TestQueue_Stop(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := New(adapter, Config{
		Name:          "test:stop",
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
		PollInterval:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	handler := func(ctx context.Context, job *Job) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	require.NoError(t, q.Consume(handler))

	assert.NoError(t, q.Stop(2*time.Second))
}
