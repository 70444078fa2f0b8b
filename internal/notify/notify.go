// Package notify delivers short user-visible messages from the host and
// opens external links.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Messages shown to the user.
const (
	MsgNoSelection       = "Please select a image"
	MsgMultipleSelection = "Please select a single image"
	MsgNotAnImage        = "Make sure you are selecting an image"
	MsgInProgress        = "A background removal is already running"
	MsgApplied           = "Transformation Applied (you can use (ctrl/command + z/y) to undo/redo)"
	MsgFailed            = "Something went wrong"
)

// Level distinguishes errors from informational messages.
type Level int

const (
	Info Level = iota
	Error
)

// Notifier shows messages and opens links.
type Notifier interface {
	Notify(ctx context.Context, level Level, msg string)
	OpenURL(ctx context.Context, url string) error
}

// Log writes notifications to the structured log.
type Log struct{}

func (Log) Notify(_ context.Context, level Level, msg string) {
	if level == Error {
		log.Warn().Str("notification", msg).Msg("User notified")
		return
	}
	log.Info().Str("notification", msg).Msg("User notified")
}

func (Log) OpenURL(_ context.Context, url string) error {
	log.Info().Str("url", url).Msg("External URL requested")
	return nil
}

// Multi fans out to several notifiers. OpenURL stops at the first opener
// that succeeds or rejects the link.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level Level, msg string) {
	for _, n := range m {
		n.Notify(ctx, level, msg)
	}
}

func (m Multi) OpenURL(ctx context.Context, url string) error {
	var errs []error
	for _, n := range m {
		if err := n.OpenURL(ctx, url); err != nil {
			if errors.Is(err, ErrUnsupportedURL) {
				return err
			}
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}

// Entry is one recorded notification.
type Entry struct {
	Level   Level
	Message string
}

// Recorder keeps every notification and opened URL in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	urls    []string
}

func (r *Recorder) Notify(_ context.Context, level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

func (r *Recorder) OpenURL(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return nil
}

// Entries returns a copy of the recorded notifications.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns just the recorded message texts.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

// URLs returns the opened URLs.
func (r *Recorder) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}
