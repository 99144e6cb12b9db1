package persistentworker

// Status is the outcome of a task.
// Values are ordered by severity, so a larger Status is a worse outcome.
type Status int

const (
	// Success maps to exit code 0.
	Success Status = iota
	// Error is a task failure, exit code 1.
	Error
	// InternalError is a defect in the worker itself rather than in the task,
	// exit code 2.
	InternalError
)

// ExitCode returns the process or response exit code for s.
func (s Status) ExitCode() int32 {
	switch s {
	case Success:
		return 0
	case Error:
		return 1
	default:
		return 2
	}
}

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Error:
		return "ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// worse returns the more severe of a and b.
func worse(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}
