package message

import (
	"time"

	"github.com/google/uuid"
)

const (
	returnsCountHeader = "returnsCount"
	traceIDHeader      = "traceId"
)

type Headers map[string]interface{}

// ReturnsCount is the number of times the job was returned to the queue after a failed execution
func (h Headers) ReturnsCount() int {
	switch v := h[returnsCountHeader].(type) {
	case int:
		return v
	case int64:
		return int(v)
	// numbers decoded from json
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (h Headers) RegisterReturn() {
	h[returnsCountHeader] = h.ReturnsCount() + 1
}

func (h Headers) TraceID() string {
	traceID, _ := h[traceIDHeader].(string)
	return traceID
}

// Job is an envelope of a job payload on the wire
type Job struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Headers Headers     `json:"headers"`
	Payload interface{} `json:"payload"`
	// StartAfter delays the delivery, nil means as soon as possible
	StartAfter *time.Time `json:"startAfter,omitempty"`
	Priority   int        `json:"priority,omitempty"`
}

type JobOption func(job *Job)

func WithHeaders(headers Headers) JobOption {
	return func(job *Job) {
		for k, v := range headers {
			job.Headers[k] = v
		}
	}
}

func WithTraceID(traceID string) JobOption {
	return func(job *Job) {
		job.Headers[traceIDHeader] = traceID
	}
}

func WithStartAfter(startAfter time.Time) JobOption {
	return func(job *Job) {
		job.StartAfter = &startAfter
	}
}

func WithPriority(priority int) JobOption {
	return func(job *Job) {
		job.Priority = priority
	}
}

// NewJob creates a job with a new id. The payload type has to be registered in scheme under the name to be decoded on the other side.
func NewJob(name string, payload interface{}, options ...JobOption) *Job {
	job := &Job{
		ID:      uuid.New().String(),
		Name:    name,
		Headers: make(Headers),
		Payload: payload,
	}

	for _, opt := range options {
		if opt != nil {
			opt(job)
		}
	}

	return job
}

// ReceivedJob is a job decoded from an incoming package
type ReceivedJob struct {
	Job
	Origin     string
	ReceivedAt time.Time
}

// FromReceivedJob creates an outbound copy of a received job with the same id. Headers are copied.
func FromReceivedJob(received *ReceivedJob) *Job {
	headers := make(Headers, len(received.Headers))
	for k, v := range received.Headers {
		headers[k] = v
	}

	job := received.Job
	job.Headers = headers

	return &job
}
