// Package ui is the network-side half of the plugin: credential entry, form
// state, remote calls and the transfer engine. It owns no document and no
// storage; everything it learns about them arrives as host messages.
//
// The Orchestrator is an actor. One goroutine owns all state and processes
// commands from a channel: host messages, user actions, and completions of
// remote calls, which run in their own goroutines and post their results
// back instead of touching state.
package ui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/auth"
	"github.com/fpang/erasebg-relay/internal/bridge"
	"github.com/fpang/erasebg-relay/internal/jobs"
	"github.com/fpang/erasebg-relay/internal/options"
	"github.com/fpang/erasebg-relay/internal/pixelbin"
	"github.com/fpang/erasebg-relay/internal/protocol"
	"github.com/fpang/erasebg-relay/internal/transfer"
)

var (
	ErrInvalidState   = errors.New("ui: action not allowed in the current state")
	ErrSubmitDisabled = errors.New("ui: submit is disabled")
	ErrStopped        = errors.New("ui: orchestrator stopped")
)

// Conn is the UI's side of the message channel.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
	Recv(ctx context.Context) (protocol.Message, error)
}

var _ Conn = (*bridge.Endpoint)(nil)

// Service is the remote API available once a token is known.
type Service interface {
	auth.IdentityAPI
	Usage(ctx context.Context) (*pixelbin.Usage, error)
}

// Dialer returns a Service authenticated with token.
type Dialer func(token string) Service

// Transferer runs one transfer job.
type Transferer interface {
	Run(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Orchestrator drives the UI state machine.
type Orchestrator struct {
	conn   Conn
	dial   Dialer
	engine Transferer
	schema *options.Schema

	cmdCh   chan uiCmd
	done    chan struct{}
	started atomic.Bool

	// runCtx bounds remote calls; cancelled when the loop exits.
	runCtx context.Context
	cancel context.CancelFunc

	obsMu     sync.Mutex
	observers map[int]func(View)
	nextObs   int
	snapshot  atomic.Pointer[View]

	// Loop-owned state.
	state        State
	session      Session
	sessionGen   uint64
	descriptors  []protocol.Option
	form         options.FormState
	loading      bool
	verifying    bool
	usageKnown   bool
	credErr      error
	usageErr     string
	formLoaded   bool
	lastErr      string
	requestID    string
	transferring bool
	lastURL      string
	version      uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSchema replaces the default option schema.
func WithSchema(s *options.Schema) Option {
	return func(o *Orchestrator) { o.schema = s }
}

// New creates an Orchestrator. Call Run to start it.
func New(conn Conn, dial Dialer, engine Transferer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conn:      conn,
		dial:      dial,
		engine:    engine,
		schema:    options.DefaultSchema(),
		cmdCh:     make(chan uiCmd, 64),
		done:      make(chan struct{}),
		observers: make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.form = options.Reset(o.schema)
	o.descriptors = o.schema.Descriptors()
	o.publish()
	return o
}

// Run sends INITIAL_CALL and processes commands until Close, until the host
// side goes away, or until ctx ends. In-flight remote calls are cancelled
// on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("ui: orchestrator already running")
	}
	o.runCtx, o.cancel = context.WithCancel(ctx)
	defer func() {
		o.cancel()
		close(o.done)
	}()

	go o.readHost()

	if err := o.send(protocol.InitialCall, "", nil); err != nil {
		return fmt.Errorf("send initial call: %w", err)
	}
	log.Debug().Msg("UI orchestrator started")

	for {
		select {
		case <-o.runCtx.Done():
			return ctx.Err()
		case cmd := <-o.cmdCh:
			stop, err := o.dispatch(cmd)
			o.publish()
			if stop {
				return err
			}
		}
	}
}

func (o *Orchestrator) readHost() {
	for {
		msg, err := o.conn.Recv(o.runCtx)
		if err != nil {
			o.post(cmdHostGone{err: err})
			return
		}
		o.post(cmdHostMessage{msg: msg})
	}
}

// post queues cmd unless the loop has exited.
func (o *Orchestrator) post(cmd uiCmd) bool {
	select {
	case o.cmdCh <- cmd:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) dispatch(cmd uiCmd) (stop bool, err error) {
	switch c := cmd.(type) {
	case cmdHostMessage:
		o.handleHostMessage(c.msg)
	case cmdHostGone:
		if errors.Is(c.err, bridge.ErrClosed) || errors.Is(c.err, context.Canceled) {
			log.Debug().Msg("Host went away, UI stopping")
			o.state = StateClosed
			return true, nil
		}
		return true, c.err
	case cmdVerified:
		o.handleVerified(c)
	case cmdUsage:
		o.handleUsage(c)
	case cmdTransferDone:
		o.handleTransferDone(c)
	case cmdSubmitCredential:
		o.reply(c.errCh, o.handleSubmitCredential(c.token))
	case cmdEditCredential:
		o.reply(c.errCh, o.handleEditCredential())
	case cmdDeleteCredential:
		o.reply(c.errCh, o.handleDeleteCredential())
	case cmdSetOption:
		o.reply(c.errCh, o.handleSetOption(c.key, c.value))
	case cmdReset:
		o.reply(c.errCh, o.handleReset())
	case cmdSubmit:
		id, err := o.handleSubmit()
		o.publish()
		c.replyCh <- submitReply{requestID: id, err: err}
	case cmdOpenURL:
		o.reply(c.errCh, o.send(protocol.OpenExternalURL, "", protocol.ExternalURL{URL: c.url}))
	case cmdClose:
		err := o.send(protocol.ClosePlugin, "", nil)
		o.state = StateClosed
		log.Info().Msg("UI closed")
		o.reply(c.errCh, err)
		return true, nil
	}
	return false, nil
}

// reply publishes the new view before answering a caller, so the caller
// observes its own effect in Snapshot.
func (o *Orchestrator) reply(errCh chan<- error, err error) {
	o.publish()
	errCh <- err
}

func (o *Orchestrator) send(t protocol.Type, requestID string, payload any) error {
	msg, err := protocol.New(t, requestID, payload)
	if err != nil {
		return err
	}
	if err := o.conn.Send(o.runCtx, msg); err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("Failed to send to host")
		return err
	}
	return nil
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	log.Debug().Str("from", o.state.String()).Str("to", s.String()).Msg("UI state changed")
	o.state = s
}

// --- host messages ---

func (o *Orchestrator) handleHostMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.IsTokenSaved:
		o.onTokenState(msg)
	case protocol.CreateForm:
		o.onCreateForm(msg)
	case protocol.ToggleLoader:
		if in, err := protocol.Decode[protocol.Loader](msg); err == nil {
			o.loading = in.Value
		} else {
			log.Warn().Err(err).Msg("Bad TOGGLE_LOADER payload")
		}
	case protocol.SelectedImage:
		o.onSelectedImage(msg)
	case protocol.TransformRejected:
		o.onTransformRejected(msg)
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("UI ignoring unexpected message")
	}
}

func (o *Orchestrator) onTokenState(msg protocol.Message) {
	in, err := protocol.Decode[protocol.TokenState](msg)
	if err != nil {
		log.Warn().Err(err).Msg("Bad IS_TOKEN_SAVED payload, assuming no token")
		o.setState(StateCredentialMissing)
		return
	}
	if in.SavedFormValue != nil {
		o.form = options.Reconcile(o.schema, in.SavedFormValue)
	}

	switch {
	case !in.Value:
		o.setState(StateCredentialMissing)
	case in.IsTokenEditing:
		o.session = Session{Token: in.SavedToken, OrgID: in.OrgID, CloudName: in.SavedCloudName}
		o.setState(StateCredentialEditing)
	default:
		o.session = Session{Token: in.SavedToken, OrgID: in.OrgID, CloudName: in.SavedCloudName}
		o.verify(in.SavedToken, true)
	}
}

func (o *Orchestrator) onCreateForm(msg protocol.Message) {
	in, err := protocol.Decode[protocol.FormSpec](msg)
	if err != nil {
		log.Warn().Err(err).Msg("Bad CREATE_FORM payload")
		return
	}
	if len(in.OptionsArray) > 0 {
		o.descriptors = in.OptionsArray
	}
	o.form = options.Reconcile(o.schema, in.SavedFormValue)
	o.formLoaded = true
}

func (o *Orchestrator) onSelectedImage(msg protocol.Message) {
	if o.state != StateTransformInFlight || msg.RequestID != o.requestID {
		log.Warn().Str("requestId", msg.RequestID).Str("expected", o.requestID).Msg("Dropping stale SELECTED_IMAGE")
		return
	}
	if o.transferring {
		log.Warn().Str("requestId", msg.RequestID).Msg("Dropping duplicate SELECTED_IMAGE")
		return
	}
	in, err := protocol.Decode[protocol.ImageSelection](msg)
	if err != nil {
		log.Error().Err(err).Msg("Bad SELECTED_IMAGE payload")
		o.failTransform(msg.RequestID, "bad_selection_payload")
		return
	}

	token := in.Token
	if token == "" {
		token = o.session.Token
	}
	cloud := in.SavedCloudName
	if cloud == "" {
		cloud = o.session.CloudName
	}
	req := transfer.Request{
		RequestID:  msg.RequestID,
		Token:      token,
		CloudName:  cloud,
		ImageName:  in.ImageName,
		ImageBytes: in.ImageBytes,
		Params:     options.Params(o.schema, o.form),
	}

	o.transferring = true
	ctx := o.runCtx
	go func() {
		res, err := o.engine.Run(ctx, req)
		o.post(cmdTransferDone{requestID: req.RequestID, result: res, err: err})
	}()
}

func (o *Orchestrator) onTransformRejected(msg protocol.Message) {
	if msg.RequestID != o.requestID || o.state != StateTransformInFlight {
		log.Debug().Str("requestId", msg.RequestID).Msg("Ignoring rejection of a request not in flight")
		return
	}
	reason := "rejected"
	if in, err := protocol.Decode[protocol.Failure](msg); err == nil && in.Reason != "" {
		reason = in.Reason
	}
	log.Info().Str("requestId", msg.RequestID).Str("reason", reason).Msg("Host rejected transform")
	o.lastErr = reason
	o.requestID = ""
	o.setState(StateFormReady)
}

// --- remote calls ---

// verify checks token in the background. restored marks a token that came
// from the store rather than from user entry.
func (o *Orchestrator) verify(token string, restored bool) {
	o.verifying = true
	gen := o.sessionGen
	svc := o.dial(token)
	ctx := o.runCtx
	go func() {
		id, err := auth.Verify(ctx, token, svc)
		o.post(cmdVerified{gen: gen, token: token, restored: restored, identity: id, err: err})
	}()
}

func (o *Orchestrator) handleVerified(c cmdVerified) {
	if c.gen != o.sessionGen {
		log.Debug().Msg("Dropping verification result for an old credential")
		return
	}
	o.verifying = false

	if c.err != nil {
		o.credErr = c.err
		if c.restored {
			o.session = Session{}
			o.setState(StateCredentialMissing)
		}
		return
	}

	o.credErr = nil
	o.sessionGen++
	o.session = Session{Token: c.token, OrgID: c.identity.OrgID, CloudName: c.identity.CloudName}
	o.usageKnown = false
	o.usageErr = ""
	o.setState(StateFormReady)

	if !c.restored {
		if err := o.send(protocol.SaveToken, "", protocol.TokenSave{
			Value:     c.token,
			CloudName: c.identity.CloudName,
			OrgID:     c.identity.OrgID,
		}); err != nil {
			o.credErr = fmt.Errorf("save token: %w", err)
		}
	}
	o.refreshUsage()
}

func (o *Orchestrator) refreshUsage() {
	if o.session.Token == "" {
		return
	}
	gen := o.sessionGen
	svc := o.dial(o.session.Token)
	ctx := o.runCtx
	go func() {
		u, err := svc.Usage(ctx)
		o.post(cmdUsage{gen: gen, usage: u, err: err})
	}()
}

func (o *Orchestrator) handleUsage(c cmdUsage) {
	if c.gen != o.sessionGen {
		return
	}
	if c.err != nil {
		log.Warn().Err(c.err).Msg("Failed to refresh usage")
		o.usageErr = c.err.Error()
		return
	}
	o.usageErr = ""
	o.session.CreditsUsed = c.usage.Credits.Used
	o.session.TotalCredit = c.usage.Credits.Total
	o.usageKnown = true
	log.Debug().
		Float64("used", c.usage.Credits.Used).
		Float64("total", c.usage.Credits.Total).
		Msg("Usage refreshed")
}

func (o *Orchestrator) handleTransferDone(c cmdTransferDone) {
	if c.requestID != o.requestID {
		log.Warn().Str("requestId", c.requestID).Msg("Dropping result of a superseded transfer")
		return
	}
	o.transferring = false

	if c.err != nil {
		log.Error().Err(c.err).Str("requestId", c.requestID).Msg("Transfer failed")
		o.failTransform(c.requestID, failureReason(c.err))
		o.refreshUsage()
		return
	}

	o.lastURL = c.result.URL
	o.lastErr = ""
	if err := o.send(protocol.ReplaceImage, c.requestID, protocol.Replacement{BgRemovedURL: c.result.URL}); err != nil {
		o.lastErr = err.Error()
	}
	o.requestID = ""
	o.setState(StateFormReady)
	o.refreshUsage()
}

func (o *Orchestrator) failTransform(requestID, reason string) {
	o.lastErr = reason
	if err := o.send(protocol.TransformFailed, requestID, protocol.Failure{Reason: reason}); err != nil {
		log.Error().Err(err).Msg("Failed to report transform failure")
	}
	o.requestID = ""
	o.transferring = false
	o.setState(StateFormReady)
}

func failureReason(err error) string {
	var acqErr *transfer.AcquireError
	var upErr *transfer.UploadError
	switch {
	case errors.As(err, &acqErr):
		return "acquire_failed"
	case errors.As(err, &upErr):
		return fmt.Sprintf("upload_failed after %d attempt(s)", upErr.Attempts)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "transfer_failed"
	}
}

// --- user actions ---

func (o *Orchestrator) handleSubmitCredential(token string) error {
	if o.state != StateCredentialMissing && o.state != StateCredentialEditing {
		return ErrInvalidState
	}
	o.sessionGen++
	o.credErr = nil
	o.verify(token, false)
	return nil
}

func (o *Orchestrator) handleEditCredential() error {
	if o.state != StateFormReady {
		return ErrInvalidState
	}
	o.setState(StateCredentialEditing)
	return nil
}

func (o *Orchestrator) handleDeleteCredential() error {
	if o.state != StateFormReady && o.state != StateCredentialEditing {
		return ErrInvalidState
	}
	if err := o.send(protocol.DeleteToken, "", nil); err != nil {
		return err
	}
	o.sessionGen++
	o.session = Session{}
	o.loading = false
	o.verifying = false
	o.usageKnown = false
	o.usageErr = ""
	o.credErr = nil
	o.setState(StateCredentialMissing)
	return nil
}

func (o *Orchestrator) handleSetOption(key string, value any) error {
	if o.state == StateTransformInFlight || o.state == StateClosed {
		return ErrInvalidState
	}
	f, err := options.Set(o.schema, o.form, key, value)
	if err != nil {
		return err
	}
	o.form = f
	return nil
}

func (o *Orchestrator) handleReset() error {
	if o.state == StateTransformInFlight || o.state == StateClosed {
		return ErrInvalidState
	}
	o.form = options.Reset(o.schema)
	return nil
}

func (o *Orchestrator) handleSubmit() (string, error) {
	if !canSubmit(o.state, o.loading, o.session.CreditsUsed, o.session.TotalCredit) {
		return "", ErrSubmitDisabled
	}
	id := jobs.GenerateID(jobs.TransformPrefix)
	if err := o.send(protocol.Transform, id, protocol.TransformRequest{Params: o.form.Values()}); err != nil {
		return "", err
	}
	o.requestID = id
	o.lastErr = ""
	o.setState(StateTransformInFlight)
	log.Info().Str("requestId", id).Msg("Transform submitted")
	return id, nil
}

// --- observation ---

func (o *Orchestrator) view() View {
	return View{
		Version:         o.version,
		State:           o.state,
		Session:         o.session,
		Options:         append([]protocol.Option(nil), o.descriptors...),
		Form:            o.form.Clone(),
		FormLoaded:      o.formLoaded,
		Loading:         o.loading,
		Verifying:       o.verifying,
		UsageKnown:      o.usageKnown,
		CredentialError: errString(o.credErr),
		CredentialErr:   o.credErr,
		UsageError:      o.usageErr,
		LastError:       o.lastErr,
		RequestID:       o.requestID,
		SubmitEnabled:   canSubmit(o.state, o.loading, o.session.CreditsUsed, o.session.TotalCredit),
		LastResultURL:   o.lastURL,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// publish stores a fresh snapshot and notifies observers.
func (o *Orchestrator) publish() {
	o.version++
	v := o.view()
	o.snapshot.Store(&v)

	o.obsMu.Lock()
	fns := make([]func(View), 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.obsMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Snapshot returns the latest view. Safe from any goroutine.
func (o *Orchestrator) Snapshot() View {
	return *o.snapshot.Load()
}

// OnChange registers fn to run on the loop goroutine after every processed
// command. fn must not block or call back into the orchestrator. The
// returned func unregisters it.
func (o *Orchestrator) OnChange(fn func(View)) (cancel func()) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	return func() {
		o.obsMu.Lock()
		defer o.obsMu.Unlock()
		delete(o.observers, id)
	}
}

// WaitFor blocks until pred holds for the current view or ctx ends.
func (o *Orchestrator) WaitFor(ctx context.Context, pred func(View) bool) (View, error) {
	ch := make(chan View, 1)
	cancel := o.OnChange(func(v View) {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	})
	defer cancel()

	if v := o.Snapshot(); pred(v) {
		return v, nil
	}
	for {
		select {
		case v := <-ch:
			if pred(v) {
				return v, nil
			}
		case <-o.done:
			if v := o.Snapshot(); pred(v) {
				return v, nil
			}
			return o.Snapshot(), ErrStopped
		case <-ctx.Done():
			return o.Snapshot(), ctx.Err()
		}
	}
}

// --- public API ---

func (o *Orchestrator) call(cmd uiCmd, errCh chan error) error {
	if !o.post(cmd) {
		return ErrStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-o.done:
		return ErrStopped
	}
}

// SubmitCredential starts verification of token. The outcome shows up in
// the view: FormReady on success, CredentialError on failure.
func (o *Orchestrator) SubmitCredential(token string) error {
	errCh := make(chan error, 1)
	return o.call(cmdSubmitCredential{token: token, errCh: errCh}, errCh)
}

// EditCredential switches from the form to credential entry.
func (o *Orchestrator) EditCredential() error {
	errCh := make(chan error, 1)
	return o.call(cmdEditCredential{errCh: errCh}, errCh)
}

// DeleteCredential forgets the token here and in the host's store.
func (o *Orchestrator) DeleteCredential() error {
	errCh := make(chan error, 1)
	return o.call(cmdDeleteCredential{errCh: errCh}, errCh)
}

// SetOption edits one form value.
func (o *Orchestrator) SetOption(key string, value any) error {
	errCh := make(chan error, 1)
	return o.call(cmdSetOption{key: key, value: value, errCh: errCh}, errCh)
}

// Reset restores schema defaults.
func (o *Orchestrator) Reset() error {
	errCh := make(chan error, 1)
	return o.call(cmdReset{errCh: errCh}, errCh)
}

// Submit asks the host to transform the current selection and returns the
// request id.
func (o *Orchestrator) Submit() (string, error) {
	replyCh := make(chan submitReply, 1)
	if !o.post(cmdSubmit{replyCh: replyCh}) {
		return "", ErrStopped
	}
	select {
	case r := <-replyCh:
		return r.requestID, r.err
	case <-o.done:
		return "", ErrStopped
	}
}

// OpenExternalURL asks the host to open url.
func (o *Orchestrator) OpenExternalURL(url string) error {
	errCh := make(chan error, 1)
	return o.call(cmdOpenURL{url: url, errCh: errCh}, errCh)
}

// Close tells the host to shut down and stops the orchestrator, cancelling
// any transfer still running.
func (o *Orchestrator) Close() error {
	errCh := make(chan error, 1)
	err := o.call(cmdClose{errCh: errCh}, errCh)
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }
