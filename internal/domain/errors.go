package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// StorageError represents a persistence failure that may be retried
type StorageError struct {
	Op  string // Operation that failed (e.g., "set_favorite", "save_config")
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) IsRetriable() bool {
	return true
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a persistence error with the failing operation
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidSymbol is returned when a symbol is empty or not in the known-instrument registry.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrSimulationAlreadyRunning is returned when StartSimulation is called while a tick loop is live.
	// The call is otherwise a no-op.
	ErrSimulationAlreadyRunning = errors.New("simulation already running")

	// ErrSimulationNotRunning is returned when stopping a tick loop that has already exited.
	ErrSimulationNotRunning = errors.New("simulation not running")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
