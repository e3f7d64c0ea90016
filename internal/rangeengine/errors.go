package rangeengine

import "fmt"

// Error kinds per spec §7. Each carries enough context to be actionable
// and is a distinct type, so callers tell kinds apart with errors.As.
// PreflightError, NetworkError and WriteError also implement Unwrap to
// expose their underlying cause; the other kinds have no wrapped error.

// PreflightError covers a failed HEAD, a non-2xx/missing Content-Length,
// or a failed file create/pre-allocate.
type PreflightError struct {
	URL string
	Err error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight failed for %s: %v", e.URL, e.Err)
}
func (e *PreflightError) Unwrap() error { return e.Err }

// FilesystemLimitError is the specific FAT32 4 GiB pre-allocation error.
type FilesystemLimitError struct {
	Path     string
	FileSize int64
}

func (e *FilesystemLimitError) Error() string {
	return fmt.Sprintf("FAT32 4 GiB limit: cannot pre-allocate %d bytes for %s (filesystem does not support files > 4,294,967,295 bytes)", e.FileSize, e.Path)
}

// NetworkError covers a failed ranged GET, a non-success status, or a
// stream read error.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error for %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error for %s: %v", e.URL, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// WriteError covers a failed file seek or write.
type WriteError struct {
	Offset int64
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write error at offset %d: %v", e.Offset, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }

// StallError reports a worker that received no body bytes for longer
// than the configured stall timeout.
type StallError struct {
	WorkerStart int64
	Idle        string
}

func (e *StallError) Error() string {
	return fmt.Sprintf("connection stalled: worker at offset %d idle for %s", e.WorkerStart, e.Idle)
}

// IntegrityError reports that the final downloaded byte count did not
// match the expected file size.
type IntegrityError struct {
	Expected int64
	Actual   int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("incomplete download: expected %d bytes, got %d", e.Expected, e.Actual)
}

// ConfigError covers an invalid URL scheme (after fallback) or invalid
// task JSON.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// NotFoundError reports a control command for an unknown session ID.
type NotFoundError struct {
	ID int32
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("no session with id %d", e.ID) }
