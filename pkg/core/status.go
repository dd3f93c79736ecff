package core

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Widget not found or detached
	ErrCategoryTimeout                         // Wait or command timed out
	ErrCategoryConnection                      // Server unreachable, session missing
	ErrCategoryApp                             // Command rejected or failed inside the app
	ErrCategoryArgument                        // Caller passed invalid options
	ErrCategoryConfig                          // Invalid capabilities or config file
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryArgument:
		return "argument"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether an operation that failed with this category
// may succeed if repeated against the same session.
func (c ErrorCategory) IsRetryable() bool {
	return c == ErrCategoryAssertion || c == ErrCategoryTimeout
}
