package subscriber

import (
	"context"
	"sync"
)

type task interface {
	do()
}

type poolQueue chan chan task
type workerQueue chan task

type worker struct {
	ctx       context.Context
	poolQueue poolQueue
	myTasks   workerQueue
}

func newWorker(ctx context.Context, poolQueue poolQueue) worker {
	return worker{
		ctx:       ctx,
		poolQueue: poolQueue,
		myTasks:   make(workerQueue),
	}
}

func (w *worker) start(wGroup *sync.WaitGroup) {
	go func() {
		defer wGroup.Done()
		defer close(w.myTasks)
		for {
			w.poolQueue <- w.myTasks

			select {
			case <-w.ctx.Done():
				return
			case task, open := <-w.myTasks:
				if !open {
					panic("someone explicitly closed the channel of this worker")
				}
				task.do()
			}
		}
	}()
}

func newWorkerPool(workersCount uint) *workerPool {
	return &workerPool{
		workersCount:  workersCount,
		workersQueues: make(poolQueue, workersCount),
		mutex:         &sync.RWMutex{},
	}
}

// workerPool hands out idle workers, a worker returns itself to the pool once its task is done
type workerPool struct {
	mutex *sync.RWMutex

	stopped       bool
	workersCount  uint
	workersQueues poolQueue
}

// busyWorkers return number of workers that are busy with processing a task and weren't returned to the pool
func (p *workerPool) busyWorkers() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.stopped {
		return 0
	}

	return int(p.workersCount) - len(p.workersQueues)
}

// start schedules defined number of workers
func (p *workerPool) start(ctx context.Context) {
	wGroup := &sync.WaitGroup{}
	var i uint

	workersCtx, stopWorkers := context.WithCancel(context.Background())

	for i = 0; i < p.workersCount; i++ {
		worker := newWorker(workersCtx, p.workersQueues)
		wGroup.Add(1)
		worker.start(wGroup)
	}

	go func() {
		<-ctx.Done()

		// Each worker places itself into the pool again after finishing its task, that's where it's caught and removed.
		// All workers must be removed from the pool before it's closed and workers ctx is canceled.
		for i := 0; i < int(p.workersCount); i++ {
			<-p.workersQueues
		}

		close(p.workersQueues)

		stopWorkers()

		wGroup.Wait()

		p.mutex.Lock()
		p.stopped = true
		p.mutex.Unlock()
	}()
}

// queue returns the channel of idle workers, each one accepts a single task
func (p *workerPool) queue() poolQueue {
	return p.workersQueues
}
