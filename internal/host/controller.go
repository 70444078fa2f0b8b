// Package host is the document-side half of the plugin. It owns the
// document and the persisted store, never touches the network, and talks to
// the UI only through messages.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/bridge"
	"github.com/fpang/erasebg-relay/internal/document"
	"github.com/fpang/erasebg-relay/internal/notify"
	"github.com/fpang/erasebg-relay/internal/options"
	"github.com/fpang/erasebg-relay/internal/protocol"
	"github.com/fpang/erasebg-relay/internal/store"
)

// Reasons carried by TRANSFORM_REJECTED.
const (
	ReasonInProgress = "transform_in_progress"
	ReasonNoToken    = "no_token"
	ReasonReadFailed = "read_failed"
)

// Conn is the host's side of the message channel.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
	Recv(ctx context.Context) (protocol.Message, error)
}

var _ Conn = (*bridge.Endpoint)(nil)

// pending is the transform the host is waiting on.
type pending struct {
	requestID string
	nodeID    string
}

// Controller runs the host event loop. All fields are owned by the loop
// goroutine.
type Controller struct {
	conn      Conn
	store     store.Store
	doc       document.Document
	notifier  notify.Notifier
	schema    *options.Schema
	editToken bool

	inflight *pending
}

// Option configures a Controller.
type Option func(*Controller)

// WithSchema replaces the default option schema.
func WithSchema(s *options.Schema) Option {
	return func(c *Controller) { c.schema = s }
}

// WithTokenEditing makes INITIAL_CALL ask the UI to edit the saved token,
// as when the plugin is launched from its token-reset command.
func WithTokenEditing(on bool) Option {
	return func(c *Controller) { c.editToken = on }
}

// New creates a Controller.
func New(conn Conn, st store.Store, doc document.Document, n notify.Notifier, opts ...Option) *Controller {
	c := &Controller{
		conn:     conn,
		store:    st,
		doc:      doc,
		notifier: n,
		schema:   options.DefaultSchema(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes messages until close-plugin arrives (returns nil), the UI
// side goes away (returns nil), or ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	log.Debug().Bool("editToken", c.editToken).Msg("Host controller started")
	for {
		msg, err := c.conn.Recv(ctx)
		if errors.Is(err, bridge.ErrClosed) {
			log.Debug().Msg("UI closed the bridge, host stopping")
			return nil
		}
		if err != nil {
			return err
		}

		if msg.Type == protocol.ClosePlugin {
			log.Info().Msg("Plugin closed")
			return nil
		}
		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("type", string(msg.Type)).Str("requestId", msg.RequestID).Msg("Host failed to handle message")
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.InitialCall:
		return c.handleInitialCall(ctx)
	case protocol.SaveToken:
		return c.handleSaveToken(ctx, msg)
	case protocol.DeleteToken:
		return c.handleDeleteToken(ctx)
	case protocol.Transform:
		return c.handleTransform(ctx, msg)
	case protocol.ReplaceImage:
		return c.handleReplaceImage(ctx, msg)
	case protocol.TransformFailed:
		return c.handleTransformFailed(ctx, msg)
	case protocol.OpenExternalURL:
		return c.handleOpenExternalURL(ctx, msg)
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("Host ignoring unexpected message")
		return nil
	}
}

func (c *Controller) send(ctx context.Context, t protocol.Type, requestID string, payload any) error {
	msg, err := protocol.New(t, requestID, payload)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, msg)
}

// readString reads a string key; failures are logged and read as absent.
func (c *Controller) readString(ctx context.Context, key string) string {
	v, _, err := store.GetJSON[string](ctx, c.store, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to read persisted value, treating as absent")
		return ""
	}
	return v
}

func (c *Controller) readForm(ctx context.Context) protocol.FormValues {
	v, _, err := store.GetJSON[protocol.FormValues](ctx, c.store, store.KeyFormValue)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read saved form value, treating as absent")
		return nil
	}
	return v
}

func (c *Controller) handleInitialCall(ctx context.Context) error {
	token := c.readString(ctx, store.KeyToken)
	state := protocol.TokenState{
		Value:          token != "",
		SavedToken:     token,
		IsTokenEditing: c.editToken,
		OrgID:          c.readString(ctx, store.KeyOrgID),
		SavedCloudName: c.readString(ctx, store.KeyCloudName),
		SavedFormValue: c.readForm(ctx),
	}
	if err := c.send(ctx, protocol.IsTokenSaved, "", state); err != nil {
		return err
	}
	return c.sendForm(ctx, state.SavedFormValue)
}

func (c *Controller) sendForm(ctx context.Context, saved protocol.FormValues) error {
	return c.send(ctx, protocol.CreateForm, "", protocol.FormSpec{
		OptionsArray:   c.schema.Descriptors(),
		SavedFormValue: saved,
	})
}

func (c *Controller) handleSaveToken(ctx context.Context, msg protocol.Message) error {
	in, err := protocol.Decode[protocol.TokenSave](msg)
	if err != nil {
		return err
	}

	for _, kv := range []struct{ key, value string }{
		{store.KeyToken, in.Value},
		{store.KeyCloudName, in.CloudName},
		{store.KeyOrgID, in.OrgID},
	} {
		if err := store.SetJSON(ctx, c.store, kv.key, kv.value); err != nil {
			log.Error().Err(err).Str("key", kv.key).Msg("Failed to persist token")
			return nil
		}
	}
	log.Info().Str("orgId", in.OrgID).Str("cloudName", in.CloudName).Msg("Token saved")

	return c.sendForm(ctx, c.readForm(ctx))
}

func (c *Controller) handleDeleteToken(ctx context.Context) error {
	for _, key := range []string{store.KeyToken, store.KeyCloudName, store.KeyOrgID} {
		if err := c.store.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to delete persisted value")
		}
	}
	log.Info().Msg("Token deleted")
	return nil
}

// resolveSelection returns the single image node to transform.
func (c *Controller) resolveSelection(ctx context.Context) (document.Node, error) {
	nodes, err := c.doc.Selection(ctx)
	if err != nil {
		return document.Node{}, fmt.Errorf("read selection: %w", err)
	}
	switch {
	case len(nodes) == 0:
		return document.Node{}, &SelectionError{Kind: NoSelection}
	case len(nodes) > 1:
		return document.Node{}, &SelectionError{Kind: MultipleSelection, Count: len(nodes)}
	case !nodes[0].FirstFillIsImage():
		return document.Node{}, &SelectionError{Kind: NotAnImage, Count: 1}
	}
	return nodes[0], nil
}

func (c *Controller) reject(ctx context.Context, requestID, reason string) error {
	return c.send(ctx, protocol.TransformRejected, requestID, protocol.Failure{Reason: reason})
}

func (c *Controller) handleTransform(ctx context.Context, msg protocol.Message) error {
	req, err := protocol.Decode[protocol.TransformRequest](msg)
	if err != nil {
		return err
	}

	// Saving the form is best-effort and happens even if the transform is
	// refused below.
	if err := store.SetJSON(ctx, c.store, store.KeyFormValue, req.Params); err != nil {
		log.Warn().Err(err).Msg("Failed to persist form value")
	}

	if c.inflight != nil {
		log.Warn().
			Str("requestId", msg.RequestID).
			Str("inFlight", c.inflight.requestID).
			Msg("Transform rejected, another one is in flight")
		c.notifier.Notify(ctx, notify.Error, notify.MsgInProgress)
		return c.reject(ctx, msg.RequestID, ReasonInProgress)
	}

	node, err := c.resolveSelection(ctx)
	var selErr *SelectionError
	if errors.As(err, &selErr) {
		log.Info().Str("requestId", msg.RequestID).Str("kind", selErr.Kind.String()).Msg("Transform aborted by selection")
		c.notifier.Notify(ctx, notify.Error, selErr.Kind.Message())
		return c.reject(ctx, msg.RequestID, selErr.Kind.String())
	}
	if err != nil {
		c.notifier.Notify(ctx, notify.Error, notify.MsgFailed)
		if rerr := c.reject(ctx, msg.RequestID, ReasonReadFailed); rerr != nil {
			return rerr
		}
		return err
	}

	token := c.readString(ctx, store.KeyToken)
	if token == "" {
		log.Warn().Str("requestId", msg.RequestID).Msg("Transform requested without a saved token")
		c.notifier.Notify(ctx, notify.Error, notify.MsgFailed)
		return c.reject(ctx, msg.RequestID, ReasonNoToken)
	}

	data, err := c.doc.ImageBytes(ctx, node.Fills[0].ImageHash)
	if err != nil {
		c.notifier.Notify(ctx, notify.Error, notify.MsgFailed)
		if rerr := c.reject(ctx, msg.RequestID, ReasonReadFailed); rerr != nil {
			return rerr
		}
		return fmt.Errorf("read image of node %s: %w", node.ID, err)
	}

	c.inflight = &pending{requestID: msg.RequestID, nodeID: node.ID}
	log.Info().
		Str("requestId", msg.RequestID).
		Str("node", node.ID).
		Int("bytes", len(data)).
		Msg("Image selected for transform")

	if err := c.send(ctx, protocol.ToggleLoader, msg.RequestID, protocol.Loader{Value: true}); err != nil {
		return err
	}
	return c.send(ctx, protocol.SelectedImage, msg.RequestID, protocol.ImageSelection{
		ImageBytes:     data,
		ImageName:      imageName(node.Name),
		Token:          token,
		SavedCloudName: c.readString(ctx, store.KeyCloudName),
	})
}

// claim returns the in-flight request matching requestID and releases the
// slot, or nil when requestID is stale.
func (c *Controller) claim(t protocol.Type, requestID string) *pending {
	if c.inflight == nil || c.inflight.requestID != requestID {
		ev := log.Warn().Str("type", string(t)).Str("requestId", requestID)
		if c.inflight != nil {
			ev = ev.Str("inFlight", c.inflight.requestID)
		}
		ev.Msg("Ignoring reply for a request that is not in flight")
		return nil
	}
	p := c.inflight
	c.inflight = nil
	return p
}

func (c *Controller) finish(ctx context.Context, requestID string, level notify.Level, text string) error {
	c.notifier.Notify(ctx, level, text)
	return c.send(ctx, protocol.ToggleLoader, requestID, protocol.Loader{Value: false})
}

func (c *Controller) handleReplaceImage(ctx context.Context, msg protocol.Message) error {
	p := c.claim(msg.Type, msg.RequestID)
	if p == nil {
		return nil
	}

	in, err := protocol.Decode[protocol.Replacement](msg)
	if err == nil {
		err = c.replaceFill(ctx, p.nodeID, in.BgRemovedURL)
	}
	if err != nil {
		log.Error().Err(err).Str("requestId", p.requestID).Msg("Failed to apply transformed image")
		return c.finish(ctx, p.requestID, notify.Error, notify.MsgFailed)
	}

	log.Info().Str("requestId", p.requestID).Str("node", p.nodeID).Msg("Transformation applied")
	return c.finish(ctx, p.requestID, notify.Info, notify.MsgApplied)
}

func (c *Controller) replaceFill(ctx context.Context, nodeID, url string) error {
	img, err := c.doc.CreateImageFromURL(ctx, url)
	if err != nil {
		return &DocumentMutationError{NodeID: nodeID, Op: "create image", Err: err}
	}
	fills := []document.Paint{{Type: document.PaintImage, ImageHash: img.Hash, ScaleMode: document.ScaleFill}}
	if err := c.doc.SetFills(ctx, nodeID, fills); err != nil {
		return &DocumentMutationError{NodeID: nodeID, Op: "set fills", Err: err}
	}
	return nil
}

func (c *Controller) handleTransformFailed(ctx context.Context, msg protocol.Message) error {
	p := c.claim(msg.Type, msg.RequestID)
	if p == nil {
		return nil
	}
	reason := ""
	if in, err := protocol.Decode[protocol.Failure](msg); err == nil {
		reason = in.Reason
	}
	log.Warn().Str("requestId", p.requestID).Str("reason", reason).Msg("Transform failed in UI")
	return c.finish(ctx, p.requestID, notify.Error, notify.MsgFailed)
}

func (c *Controller) handleOpenExternalURL(ctx context.Context, msg protocol.Message) error {
	in, err := protocol.Decode[protocol.ExternalURL](msg)
	if err != nil {
		return err
	}
	if err := c.notifier.OpenURL(ctx, in.URL); err != nil {
		log.Warn().Err(err).Str("url", in.URL).Msg("Failed to open external URL")
	}
	return nil
}

// imageName is the upload base name for a node: its name without spaces.
func imageName(nodeName string) string {
	return strings.ReplaceAll(nodeName, " ", "")
}
