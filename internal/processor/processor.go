package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/internal/config"
	"github.com/sahelsms/orange-gateway/internal/queue"
	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/redis"
	"github.com/sahelsms/orange-gateway/pkg/worker"
)

const (
	ProcessingTimeout = 30 * time.Second
	HealthInterval    = 30 * time.Second
	ShutdownTimeout   = time.Minute

	consumerInstances = 4
	workerPoolSize    = 32
	workerBufferSize  = 1024
)

// Processor handles one kind of queue job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
	GetType() string
}

// ProcessorService owns the submit-stream consumers and the worker pool that
// executes carrier submissions off the consume loop.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter) *ProcessorService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		queues:  make([]*queue.Queue, 0, consumerInstances),
		metrics: NewServiceMetrics(),
		worker:  worker.NewWorkerManager(workerBufferSize, workerPoolSize, nil),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *ProcessorService) RegisterProcessor(p Processor) {
	s.processor = p
	logger.Info("registered processor", "type", p.GetType())
}

func (s *ProcessorService) Start() error {
	if s.processor == nil {
		return errors.New("no processor registered")
	}

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("worker pool stopped", "error", err)
		}
	}()

	cfg := config.Get()
	for i := 0; i < consumerInstances; i++ {
		q, err := queue.New(s.adapter, queue.Config{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-%d", cfg.QueueConsumerName, i),
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		})
		if err != nil {
			return errors.Wrapf(err, "creating consumer %d", i)
		}
		if err := q.Consume(s.jobHandler); err != nil {
			return errors.Wrapf(err, "starting consumer %d", i)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.statsReporter()
	go s.healthChecker()

	logger.Info("processor service started", "consumers", len(s.queues), "workers", workerPoolSize)
	return nil
}

func (s *ProcessorService) statsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportStats()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportStats() {
	stats := s.metrics.GetStats()
	logger.Info("submit stats",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime_seconds", int64(stats.Uptime.Seconds()))

	for i, q := range s.queues {
		if qs, err := q.GetStats(); err == nil {
			logger.Info("queue stats", "consumer", i, "total", qs.TotalJobs, "pending", qs.PendingJobs)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) checkHealth() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}
	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("health check: queue stats unavailable", "consumer", i, "error", err)
			continue
		}
		if stats.PendingJobs > 10000 {
			logger.Warn("health check: high submit lag", "consumer", i, "pending", stats.PendingJobs)
		}
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")
	s.cancel()

	stopChan := make(chan struct{}, len(s.queues))
	for i, q := range s.queues {
		go func(index int, q *queue.Queue) {
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("stopping consumer", "consumer", index, "error", err)
			}
			stopChan <- struct{}{}
		}(i, q)
	}
	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout + 5*time.Second):
			logger.Warn("timeout waiting for consumers to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportStats()
	logger.Info("processor service stopped")
}

type submitJob struct {
	job        *queue.Job
	resultChan chan error
	ctx        context.Context
}

// jobHandler bridges the consume loop into the worker pool and blocks until
// the worker reports the outcome, so ack/retry decisions stay in the queue.
func (s *ProcessorService) jobHandler(ctx context.Context, job *queue.Job) error {
	resultChan := make(chan error, 1)

	jobCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	s.worker.Enqueue(&submitJob{job: job, resultChan: resultChan, ctx: jobCtx})

	select {
	case err := <-resultChan:
		return err
	case <-jobCtx.Done():
		return errors.Wrap(jobCtx.Err(), "timeout waiting for submit worker")
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, raw interface{}) {
	sj, ok := raw.(*submitJob)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-sj.ctx.Done():
		return
	default:
	}

	start := time.Now()
	err := s.processor.Process(sj.ctx, sj.job)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Error("processing submit job", "worker", workerIndex, "job_id", sj.job.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	select {
	case sj.resultChan <- err:
	case <-sj.ctx.Done():
	}
}
