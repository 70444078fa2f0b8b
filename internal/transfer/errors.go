package transfer

import "fmt"

// AcquireError means no upload target could be obtained. The acquire phase
// is never retried.
type AcquireError struct {
	RequestID string
	Err       error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire upload target: %v", e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// UploadError means the upload failed permanently or ran out of attempts.
type UploadError struct {
	RequestID string
	Attempts  int
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
