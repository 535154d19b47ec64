package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/redis"
)

// Job is a single entry consumed from a stream. Attempts counts reclaims:
// a job delivered for the first time has Attempts 0.
type Job struct {
	ID        string
	Data      []byte
	Timestamp time.Time
	Attempts  int
}

// Handler processes one job. A nil return acknowledges the job; an error
// leaves it pending so the reclaim pass retries it later.
type Handler func(ctx context.Context, job *Job) error

type Config struct {
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

// Queue is a redis-streams work queue with consumer groups, at-least-once
// delivery and a dead-letter stream for jobs that exhaust their retries.
type Queue struct {
	adapter redis.RedisAdapter
	config  Config
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Stats struct {
	TotalJobs   int64
	PendingJobs int64
	Consumers   int64
}

func New(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = config.Name + "-group"
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
		config.PollInterval = time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{adapter: adapter, config: config, ctx: ctx, cancel: cancel}

	// BUSYGROUP on an existing group is fine.
	_ = q.adapter.XGroupCreateMkStream(config.Name, config.ConsumerGroup, "0")

	return q, nil
}

// Publish appends raw data to the stream.
func (q *Queue) Publish(ctx context.Context, data []byte) (string, error) {
	id, err := q.adapter.XAdd(q.config.Name, map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"attempts":  0,
	})
	if err != nil {
		return "", errors.Wrap(err, "publishing job")
	}
	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}
	return id, nil
}

// PublishJSON marshals v and publishes it.
func (q *Queue) PublishJSON(ctx context.Context, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encoding job")
	}
	return q.Publish(ctx, data)
}

// Consume starts a background loop delivering jobs to handler until Stop.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return errors.New("queue handler is required")
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
			q.readNew()
			q.reclaimStuck()
		}
	}
}

func (q *Queue) readNew() {
	msgs, err := q.adapter.XReadGroup(
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)
	if err != nil {
		if err != redis.NilError {
			logger.Warn("reading submit stream", "queue", q.config.Name, "error", err)
		}
		return
	}
	for _, m := range msgs {
		q.dispatch(q.toJob(m))
	}
}

// reclaimStuck takes over jobs another consumer left pending past the
// visibility timeout.
func (q *Queue) reclaimStuck() {
	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	ext, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(ext) == 0 {
		return
	}

	var ids []string
	for _, p := range ext {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	msgs, err := q.adapter.XClaim(q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("claiming stuck jobs", "queue", q.config.Name, "error", err)
		return
	}
	for _, m := range msgs {
		job := q.toJob(m)
		job.Attempts++
		q.dispatch(job)
	}
}

func (q *Queue) dispatch(job *Job) {
	if job.Attempts >= q.config.MaxRetries {
		q.deadLetter(job)
		q.ack(job.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, job); err != nil {
		logger.Warn("job failed, leaving pending for retry",
			"queue", q.config.Name, "job_id", job.ID, "attempts", job.Attempts, "error", err)
		return
	}
	q.ack(job.ID)
}

func (q *Queue) ack(id string) {
	if err := q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Warn("acking job", "queue", q.config.Name, "job_id", id, "error", err)
	}
}

func (q *Queue) deadLetter(job *Job) {
	if !q.config.EnableDLQ {
		logger.Error("dropping job after max retries", "queue", q.config.Name, "job_id", job.ID)
		return
	}
	_, err := q.adapter.XAdd(q.config.Name+":dlq", map[string]interface{}{
		"data":           string(job.Data),
		"original_id":    job.ID,
		"attempts":       job.Attempts,
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	})
	if err != nil {
		logger.Error("writing to dead-letter stream", "queue", q.config.Name, "job_id", job.ID, "error", err)
	}
}

func (q *Queue) toJob(m redis.StreamMessage) *Job {
	job := &Job{ID: m.ID}
	for k, v := range m.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "data":
			job.Data = []byte(s)
		case "timestamp":
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				job.Timestamp = t
			}
		case "attempts":
			if n, err := strconv.Atoi(s); err == nil {
				job.Attempts = n
			}
		}
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now()
	}
	return job
}

// Stop cancels the consume loop and waits for in-flight jobs.
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

func (q *Queue) GetStats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalJobs: total}
	if pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingJobs = pending.Count
		stats.Consumers = int64(len(pending.Consumers))
	}
	return stats, nil
}
