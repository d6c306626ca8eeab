package dispatcher

import (
	"reflect"
	"sort"
	"sync"

	"github.com/go-foreman/conductor/pubsub/message/execution"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/dispatcher/dispatcher.go -package dispatcher . Dispatcher

// Dispatcher matches received jobs with executors by the job name
type Dispatcher interface {
	// Match returns executors subscribed for the job name followed by the ones subscribed for all jobs
	Match(jobName string) []execution.Executor
	// Subscribe registers an executor for the job name, an executor registered twice is ignored
	Subscribe(jobName string, executor execution.Executor) Dispatcher
	// SubscribeForAllJobs registers an executor called on each job
	SubscribeForAllJobs(executor execution.Executor) Dispatcher
	// JobNames returns sorted names of jobs that have executors
	JobNames() []string
}

func NewDispatcher() Dispatcher {
	return &dispatcher{
		handlers: make(map[string][]execution.Executor),
	}
}

type dispatcher struct {
	mu              sync.RWMutex
	handlers        map[string][]execution.Executor
	allJobsHandlers []execution.Executor
}

func (d *dispatcher) Match(jobName string) []execution.Executor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	res := make([]execution.Executor, 0, len(d.handlers[jobName])+len(d.allJobsHandlers))
	res = append(res, d.handlers[jobName]...)

	for _, h := range d.allJobsHandlers {
		res = appendUnique(res, h)
	}

	return res
}

func (d *dispatcher) Subscribe(jobName string, executor execution.Executor) Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[jobName] = appendUnique(d.handlers[jobName], executor)

	return d
}

func (d *dispatcher) SubscribeForAllJobs(executor execution.Executor) Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.allJobsHandlers = appendUnique(d.allJobsHandlers, executor)

	return d
}

func (d *dispatcher) JobNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// appendUnique compares executors by their code pointer, because functions are not comparable
func appendUnique(executors []execution.Executor, executor execution.Executor) []execution.Executor {
	executorPtr := reflect.ValueOf(executor).Pointer()

	for _, e := range executors {
		if reflect.ValueOf(e).Pointer() == executorPtr {
			return executors
		}
	}

	return append(executors, executor)
}
