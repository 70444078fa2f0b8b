package transfer

import (
	"fmt"

	"github.com/fpang/erasebg-relay/internal/pixelbin"
)

// State is a TransferJob lifecycle state.
type State int

const (
	StateRequested State = iota
	StateUploading
	StateRetrying
	StateSucceeded
	StateCompleted
	StateAbandoned
)

var stateNames = [...]string{"requested", "uploading", "retrying", "succeeded", "completed", "abandoned"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateCompleted || s == StateAbandoned }

// Job is one upload of one image. It is owned by the goroutine running it;
// observers receive copies.
type Job struct {
	RequestID  string
	TargetName string
	Size       int
	Target     *pixelbin.PresignedURL
	Attempts   int
	State      State
	FileID     string
	URL        string
	Err        error
}

// Result is a completed job.
type Result struct {
	URL      string
	FileID   string
	Attempts int
}
