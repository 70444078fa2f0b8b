package host

import (
	"fmt"

	"github.com/fpang/erasebg-relay/internal/notify"
)

// SelectionKind says why a selection cannot be transformed.
type SelectionKind int

const (
	NoSelection SelectionKind = iota + 1
	MultipleSelection
	NotAnImage
)

func (k SelectionKind) String() string {
	switch k {
	case NoSelection:
		return "no_selection"
	case MultipleSelection:
		return "multiple_selection"
	case NotAnImage:
		return "not_an_image"
	default:
		return fmt.Sprintf("selection(%d)", int(k))
	}
}

// Message returns the notification shown for k.
func (k SelectionKind) Message() string {
	switch k {
	case NoSelection:
		return notify.MsgNoSelection
	case MultipleSelection:
		return notify.MsgMultipleSelection
	default:
		return notify.MsgNotAnImage
	}
}

// SelectionError aborts a transform before anything leaves the host.
type SelectionError struct {
	Kind  SelectionKind
	Count int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection (%s, %d node(s))", e.Kind, e.Count)
}

// DocumentMutationError means the result could not be written into the
// document.
type DocumentMutationError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *DocumentMutationError) Error() string {
	return fmt.Sprintf("%s on node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *DocumentMutationError) Unwrap() error { return e.Err }
