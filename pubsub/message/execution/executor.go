package execution

// Executor is a callback that is called on a received job with its context.
// It should return an error only if the job has to be processed again, e.g. the store is unavailable.
type Executor func(execCtx JobExecutionCtx) error
