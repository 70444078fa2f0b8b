// Package relay assembles one plugin session: the host controller and the
// UI orchestrator joined by a bridge, with the store, document, notifier,
// remote client and transfer engine chosen from configuration.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/erasebg-relay/internal/awsboot"
	"github.com/fpang/erasebg-relay/internal/bridge"
	"github.com/fpang/erasebg-relay/internal/config"
	"github.com/fpang/erasebg-relay/internal/document"
	"github.com/fpang/erasebg-relay/internal/host"
	"github.com/fpang/erasebg-relay/internal/notify"
	"github.com/fpang/erasebg-relay/internal/pixelbin"
	"github.com/fpang/erasebg-relay/internal/retry"
	"github.com/fpang/erasebg-relay/internal/store"
	"github.com/fpang/erasebg-relay/internal/transfer"
	"github.com/fpang/erasebg-relay/internal/ui"
)

var (
	// ErrNoCredential is returned by Apply when no verified token is available.
	ErrNoCredential = errors.New("no verified token, run `erasebg token set` first")
	// ErrNoCredits is returned by Apply when the plan has no credits left.
	ErrNoCredits = errors.New("no credits left on the current plan")
	// ErrTransformFailed wraps the reason a transform did not complete.
	ErrTransformFailed = errors.New("transform failed")
)

// OpenStore builds the configured store backend and returns it with a
// human-readable location for the startup summary.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, string, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), "memory", nil
	case config.StoreDynamo:
		clients, err := awsboot.InitAWS(ctx)
		if err != nil {
			return nil, "", err
		}
		st, err := awsboot.InitDynamo(clients.Config, cfg.DynamoTable, cfg.Namespace)
		if err != nil {
			return nil, "", err
		}
		return st, fmt.Sprintf("%s/%s", cfg.DynamoTable, cfg.Namespace), nil
	default:
		return store.NewFileStore(cfg.StorePath, cfg.Namespace), cfg.StorePath, nil
	}
}

// Notifier returns the host notifier for cfg: structured log output, plus
// native desktop notifications when enabled.
func Notifier(cfg *config.Config) notify.Notifier {
	if cfg.DesktopNotify {
		return notify.Multi{notify.NewDesktop(), notify.Log{}}
	}
	return notify.Log{}
}

// Option configures a Session.
type Option func(*settings)

type settings struct {
	editToken  bool
	httpClient *http.Client
	observer   func(transfer.Job)
	policy     *retry.Policy
}

// WithTokenEditing starts the session in token-edit mode.
func WithTokenEditing(on bool) Option {
	return func(s *settings) { s.editToken = on }
}

// WithHTTPClient makes every remote call go through h.
func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) { s.httpClient = h }
}

// WithTransferObserver receives every transfer job state change.
func WithTransferObserver(fn func(transfer.Job)) Option {
	return func(s *settings) { s.observer = fn }
}

// WithRetryPolicy overrides the upload retry policy built from config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *settings) { s.policy = &p }
}

// Session is a running plugin instance.
type Session struct {
	Host *host.Controller
	UI   *ui.Orchestrator

	notes   *notify.Recorder
	hostEnd *bridge.Endpoint
	uiEnd   *bridge.Endpoint
	group   *errgroup.Group
}

// NewSession wires a session. Start must be called before using it.
func NewSession(cfg *config.Config, st store.Store, doc document.Document, n notify.Notifier, opts ...Option) (*Session, error) {
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	clientOpts := []pixelbin.Option{pixelbin.WithBaseURL(cfg.APIDomain)}
	if set.httpClient != nil {
		clientOpts = append(clientOpts, pixelbin.WithHTTPClient(set.httpClient))
	} else if cfg.HTTPTimeout > 0 {
		clientOpts = append(clientOpts, pixelbin.WithTimeout(cfg.HTTPTimeout))
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.UploadMaxAttempts,
		InitialBackoff: cfg.UploadBackoff,
		MaxBackoff:     cfg.UploadMaxBackoff,
	}
	if set.policy != nil {
		policy = *set.policy
	}

	var engineOpts []transfer.EngineOption
	if set.observer != nil {
		engineOpts = append(engineOpts, transfer.WithObserver(set.observer))
	}
	engine, err := transfer.NewEngine(
		func(token string) transfer.Remote { return pixelbin.NewClient(token, clientOpts...) },
		transfer.Config{
			CDN:  cfg.CDNDomain,
			Zone: cfg.Zone,
			Upload: pixelbin.UploadOptions{
				ChunkSize:   cfg.ChunkSize,
				Concurrency: cfg.UploadConcurrency,
				MaxRetries:  cfg.ChunkRetries,
			},
			Policy: &policy,
		},
		engineOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("create transfer engine: %w", err)
	}

	notes := &notify.Recorder{}
	hostEnd, uiEnd := bridge.New(bridge.DefaultBuffer)

	return &Session{
		Host: host.New(hostEnd, st, doc, notify.Multi{n, notes}, host.WithTokenEditing(set.editToken)),
		UI: ui.New(uiEnd,
			func(token string) ui.Service { return pixelbin.NewClient(token, clientOpts...) },
			engine,
		),
		notes:   notes,
		hostEnd: hostEnd,
		uiEnd:   uiEnd,
	}, nil
}

// Start runs both sides until the UI closes, the host goes away, or ctx
// ends.
func (s *Session) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.hostEnd.Close()
		if err := s.Host.Run(gctx); err != nil {
			return fmt.Errorf("host: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer s.uiEnd.Close()
		if err := s.UI.Run(gctx); err != nil {
			return fmt.Errorf("ui: %w", err)
		}
		return nil
	})
	s.group = g
	log.Debug().Msg("Plugin session started")
}

// Wait blocks until both sides have stopped.
func (s *Session) Wait() error {
	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the plugin from the UI side and waits for both sides.
func (s *Session) Close() error {
	if err := s.UI.Close(); err != nil {
		log.Warn().Err(err).Msg("UI close reported an error")
	}
	return s.Wait()
}

// Notes returns the notifications the host has shown so far.
func (s *Session) Notes() []notify.Entry {
	return s.notes.Entries()
}

// Settled reports whether the UI has finished its start-up exchange: the
// form has arrived, no verification is running, and usage has been
// fetched (or failed) for a verified credential.
func Settled(v ui.View) bool {
	if v.State == ui.StateClosed {
		return true
	}
	if !v.FormLoaded || v.Verifying {
		return false
	}
	switch v.State {
	case ui.StateCredentialMissing, ui.StateCredentialEditing:
		return true
	case ui.StateFormReady:
		return v.UsageKnown || v.UsageError != ""
	default:
		return false
	}
}

// Ready waits for the start-up exchange to settle.
func (s *Session) Ready(ctx context.Context) (ui.View, error) {
	return s.UI.WaitFor(ctx, Settled)
}

// SetCredential verifies token and, on success, persists it through the
// host. An existing credential is replaced.
func (s *Session) SetCredential(ctx context.Context, token string) (ui.View, error) {
	v, err := s.Ready(ctx)
	if err != nil {
		return v, err
	}
	if v.State == ui.StateFormReady {
		if err := s.UI.EditCredential(); err != nil {
			return v, err
		}
	}
	if err := s.UI.SubmitCredential(token); err != nil {
		return s.UI.Snapshot(), err
	}

	v, err = s.UI.WaitFor(ctx, func(v ui.View) bool { return !v.Verifying })
	if err != nil {
		return v, err
	}
	if v.CredentialErr != nil {
		return v, fmt.Errorf("token rejected: %w", v.CredentialErr)
	}
	return v, nil
}

// DeleteCredential forgets the saved credential. It reports whether there
// was one.
func (s *Session) DeleteCredential(ctx context.Context) (bool, error) {
	v, err := s.Ready(ctx)
	if err != nil {
		return false, err
	}
	if v.State == ui.StateCredentialMissing {
		return false, nil
	}
	return true, s.UI.DeleteCredential()
}

// ApplyResult is the outcome of one transform as the user would see it.
type ApplyResult struct {
	RequestID string
	URL       string
	Notice    string
}

// Apply runs one transform on the host's current selection and waits until
// the host has finished with it.
func (s *Session) Apply(ctx context.Context) (ApplyResult, error) {
	v, err := s.Ready(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	if v.State != ui.StateFormReady {
		return ApplyResult{}, ErrNoCredential
	}
	if !v.SubmitEnabled {
		if v.UsageError != "" {
			return ApplyResult{}, fmt.Errorf("usage unavailable: %s", v.UsageError)
		}
		return ApplyResult{}, ErrNoCredits
	}

	before := len(s.notes.Entries())
	id, err := s.UI.Submit()
	if err != nil {
		return ApplyResult{}, err
	}

	v, err = s.UI.WaitFor(ctx, func(v ui.View) bool {
		return v.State != ui.StateTransformInFlight && !v.Loading
	})
	res := ApplyResult{RequestID: id}
	if entries := s.notes.Entries(); len(entries) > before {
		res.Notice = entries[len(entries)-1].Message
	}
	if err != nil {
		return res, err
	}
	if v.LastError != "" {
		return res, fmt.Errorf("%w: %s", ErrTransformFailed, v.LastError)
	}
	res.URL = v.LastResultURL
	if res.Notice != notify.MsgApplied {
		return res, fmt.Errorf("%w: %s", ErrTransformFailed, res.Notice)
	}
	return res, nil
}
