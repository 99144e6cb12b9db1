package persistentworker

// Work executes a single unit of work.
// Implementations must be safe for concurrent use when the worker runs with
// more than one in-flight request (multiplexing).
type Work interface {
	// Work runs one request's arguments in ctx. A returned error or a panic
	// fails the task with status Error; the error and its cause chain are
	// written to the task log.
	Work(ctx *TaskContext, args []string) (Status, error)
}

// WorkFunc is a function adapter that implements Work.
type WorkFunc func(ctx *TaskContext, args []string) (Status, error)

// Work calls the function itself.
func (f WorkFunc) Work(ctx *TaskContext, args []string) (Status, error) {
	return f(ctx, args)
}
