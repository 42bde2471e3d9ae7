package netmon

import "errors"

var (
	// ErrAlreadyDisposed is returned by Start once the monitor has been
	// stopped. A stopped monitor cannot be restarted.
	ErrAlreadyDisposed = errors.New("path monitor already disposed")

	// ErrMonitoringUnavailable wraps any failure of the platform watcher.
	ErrMonitoringUnavailable = errors.New("path monitoring unavailable")

	errStreamEnded = errors.New("path stream ended")
)
