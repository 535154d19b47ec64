package worker

import (
	"sync"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

// WorkerManager distributes jobs published through Enqueue across a fixed
// pool of goroutines. Workers run until Exit is called; the job channel is
// never closed here since other publishers may still hold it.
type WorkerManager struct {
	jobChannel     chan interface{}
	numberOfWorker int
	quit           chan struct{}
	quitOnce       sync.Once
	do             WorkerHandler
	waiter         sync.WaitGroup
}

func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	return &WorkerManager{
		jobChannel:     jobChannel,
		numberOfWorker: numberOfWorkers,
		quit:           make(chan struct{}),
	}
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

// Enqueue publishes a job onto the channel. Blocks when the buffer is full.
func (w *WorkerManager) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// Start spins up the workers and blocks until Exit is called.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		panic("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}

	logger.Info("worker pool started", "workers", w.numberOfWorker)
	w.waiter.Wait()
	return nil
}

// Exit signals all workers to stop after their current job.
func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() { close(w.quit) })
}
