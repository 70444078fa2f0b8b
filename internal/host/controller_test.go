package host

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/erasebg-relay/internal/bridge"
	"github.com/fpang/erasebg-relay/internal/document"
	"github.com/fpang/erasebg-relay/internal/notify"
	"github.com/fpang/erasebg-relay/internal/protocol"
	"github.com/fpang/erasebg-relay/internal/store"
)

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	return buf.Bytes()
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	ui       *bridge.Endpoint
	store    *store.MemoryStore
	doc      *document.Memory
	notifier *notify.Recorder
	done     chan error
	fetched  []string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    store.NewMemoryStore(),
		notifier: &notify.Recorder{},
		done:     make(chan error, 1),
	}
	result := pngBytes(t)
	h.doc = document.NewMemory(fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		h.fetched = append(h.fetched, url)
		if url == "https://cdn.example/broken" {
			return nil, errors.New("404")
		}
		return result, nil
	}))

	hostEnd, uiEnd := bridge.New(bridge.DefaultBuffer)
	h.ui = uiEnd
	c := New(hostEnd, h.store, h.doc, h.notifier, opts...)
	go func() { h.done <- c.Run(ctx) }()
	t.Cleanup(func() {
		uiEnd.Close()
		hostEnd.Close()
	})
	return h
}

func (h *harness) send(t protocol.Type, requestID string, payload any) {
	h.t.Helper()
	require.NoError(h.t, h.ui.Send(h.ctx, protocol.MustNew(t, requestID, payload)))
}

func (h *harness) recv(want protocol.Type) protocol.Message {
	h.t.Helper()
	msg, err := h.ui.Recv(h.ctx)
	require.NoError(h.t, err)
	require.Equal(h.t, want, msg.Type)
	return msg
}

// sync does an INITIAL_CALL round trip so every earlier message has been
// handled.
func (h *harness) sync() {
	h.t.Helper()
	h.send(protocol.InitialCall, "", nil)
	h.recv(protocol.IsTokenSaved)
	h.recv(protocol.CreateForm)
}

func (h *harness) addImageNode(id, name string) {
	hash := h.doc.AddImage([]byte("source-" + id))
	h.doc.AddNode(document.Node{ID: id, Name: name, Fills: []document.Paint{{Type: document.PaintImage, ImageHash: hash}}})
}

func (h *harness) saveToken() {
	h.t.Helper()
	h.send(protocol.SaveToken, "", protocol.TokenSave{Value: "abc123", CloudName: "cloud1", OrgID: "org1"})
	h.recv(protocol.CreateForm)
}

func TestInitialCall_NoToken(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.InitialCall, "", nil)

	state, err := protocol.Decode[protocol.TokenState](h.recv(protocol.IsTokenSaved))
	require.NoError(t, err)
	assert.False(t, state.Value)
	assert.False(t, state.IsTokenEditing)
	assert.Empty(t, state.SavedToken)

	form, err := protocol.Decode[protocol.FormSpec](h.recv(protocol.CreateForm))
	require.NoError(t, err)
	require.Len(t, form.OptionsArray, 3)
	assert.Equal(t, "Industry Type", form.OptionsArray[0].Name)
}

func TestInitialCall_SavedState(t *testing.T) {
	h := newHarness(t, WithTokenEditing(true))
	ctx := context.Background()
	require.NoError(t, store.SetJSON(ctx, h.store, store.KeyToken, "abc123"))
	require.NoError(t, store.SetJSON(ctx, h.store, store.KeyOrgID, "org1"))
	require.NoError(t, store.SetJSON(ctx, h.store, store.KeyCloudName, "cloud1"))
	require.NoError(t, store.SetJSON(ctx, h.store, store.KeyFormValue, map[string]any{"industryType": "car"}))

	h.send(protocol.InitialCall, "", nil)
	state, err := protocol.Decode[protocol.TokenState](h.recv(protocol.IsTokenSaved))
	require.NoError(t, err)
	assert.True(t, state.Value)
	assert.True(t, state.IsTokenEditing)
	assert.Equal(t, "abc123", state.SavedToken)
	assert.Equal(t, "org1", state.OrgID)
	assert.Equal(t, "cloud1", state.SavedCloudName)
	assert.Equal(t, "car", state.SavedFormValue["industryType"])

	form, err := protocol.Decode[protocol.FormSpec](h.recv(protocol.CreateForm))
	require.NoError(t, err)
	assert.Equal(t, "car", form.SavedFormValue["industryType"])
}

func TestInitialCall_CorruptStoreTreatedAsAbsent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Set(context.Background(), store.KeyToken, []byte(`{"not":"a string"}`)))

	h.send(protocol.InitialCall, "", nil)
	state, err := protocol.Decode[protocol.TokenState](h.recv(protocol.IsTokenSaved))
	require.NoError(t, err)
	assert.False(t, state.Value)
	h.recv(protocol.CreateForm)
}

func TestSaveAndDeleteToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveToken()

	tok, found, err := store.GetJSON[string](ctx, h.store, store.KeyToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc123", tok)

	h.send(protocol.DeleteToken, "", nil)
	h.send(protocol.DeleteToken, "", nil)
	h.sync()

	for _, key := range []string{store.KeyToken, store.KeyOrgID, store.KeyCloudName} {
		_, found, err := store.GetJSON[string](ctx, h.store, key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
}

func TestTransform_SelectionErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		reason string
		notice string
	}{
		{
			name:   "nothing selected",
			setup:  func(h *harness) {},
			reason: "no_selection",
			notice: notify.MsgNoSelection,
		},
		{
			name: "two nodes",
			setup: func(h *harness) {
				h.addImageNode("1", "a")
				h.addImageNode("2", "b")
				require.NoError(h.t, h.doc.Select("1", "2"))
			},
			reason: "multiple_selection",
			notice: notify.MsgMultipleSelection,
		},
		{
			name: "solid fill",
			setup: func(h *harness) {
				h.doc.AddNode(document.Node{ID: "1", Name: "rect", Fills: []document.Paint{{Type: document.PaintSolid}}})
				require.NoError(h.t, h.doc.Select("1"))
			},
			reason: "not_an_image",
			notice: notify.MsgNotAnImage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.saveToken()
			tt.setup(h)

			h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{"industryType": "general"}})
			msg := h.recv(protocol.TransformRejected)
			assert.Equal(t, "xfm-1", msg.RequestID)
			f, err := protocol.Decode[protocol.Failure](msg)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, f.Reason)
			assert.Equal(t, []string{tt.notice}, h.notifier.Messages())

			// Form values are saved even when the selection is refused.
			saved, found, err := store.GetJSON[map[string]any](context.Background(), h.store, store.KeyFormValue)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "general", saved["industryType"])
		})
	}
}

func TestTransform_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.saveToken()
	h.addImageNode("1", "my photo")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})

	loader, err := protocol.Decode[protocol.Loader](h.recv(protocol.ToggleLoader))
	require.NoError(t, err)
	assert.True(t, loader.Value)

	msg := h.recv(protocol.SelectedImage)
	assert.Equal(t, "xfm-1", msg.RequestID)
	sel, err := protocol.Decode[protocol.ImageSelection](msg)
	require.NoError(t, err)
	assert.Equal(t, "myphoto", sel.ImageName)
	assert.Equal(t, "abc123", sel.Token)
	assert.Equal(t, "cloud1", sel.SavedCloudName)
	assert.Equal(t, []byte("source-1"), sel.ImageBytes)

	h.send(protocol.ReplaceImage, "xfm-1", protocol.Replacement{BgRemovedURL: "https://cdn.example/result"})
	loader, err = protocol.Decode[protocol.Loader](h.recv(protocol.ToggleLoader))
	require.NoError(t, err)
	assert.False(t, loader.Value)
	assert.Equal(t, []string{notify.MsgApplied}, h.notifier.Messages())

	node, _ := h.doc.Node("1")
	require.Len(t, node.Fills, 1)
	assert.Equal(t, document.ScaleFill, node.Fills[0].ScaleMode)
	assert.Equal(t, document.Hash(pngBytes(t)), node.Fills[0].ImageHash)
}

func TestTransform_SecondRequestRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.saveToken()
	h.addImageNode("1", "a")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
	h.recv(protocol.SelectedImage)

	h.send(protocol.Transform, "xfm-2", protocol.TransformRequest{Params: protocol.FormValues{}})
	f, err := protocol.Decode[protocol.Failure](h.recv(protocol.TransformRejected))
	require.NoError(t, err)
	assert.Equal(t, ReasonInProgress, f.Reason)
	assert.Equal(t, []string{notify.MsgInProgress}, h.notifier.Messages())
}

func TestReplaceImage_StaleRequestIgnored(t *testing.T) {
	h := newHarness(t)
	h.saveToken()
	h.addImageNode("1", "a")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
	h.recv(protocol.SelectedImage)

	h.send(protocol.ReplaceImage, "xfm-old", protocol.Replacement{BgRemovedURL: "https://cdn.example/stale"})
	h.sync()
	assert.Empty(t, h.fetched, "stale reply must not touch the document")
	assert.Empty(t, h.notifier.Messages())

	// The real reply still lands.
	h.send(protocol.ReplaceImage, "xfm-1", protocol.Replacement{BgRemovedURL: "https://cdn.example/ok"})
	h.recv(protocol.ToggleLoader)
	assert.Equal(t, []string{"https://cdn.example/ok"}, h.fetched)
}

func TestReplaceImage_ConstructionFailure(t *testing.T) {
	h := newHarness(t)
	h.saveToken()
	h.addImageNode("1", "a")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
	h.recv(protocol.SelectedImage)

	h.send(protocol.ReplaceImage, "xfm-1", protocol.Replacement{BgRemovedURL: "https://cdn.example/broken"})
	loader, err := protocol.Decode[protocol.Loader](h.recv(protocol.ToggleLoader))
	require.NoError(t, err)
	assert.False(t, loader.Value)
	assert.Equal(t, []string{notify.MsgFailed}, h.notifier.Messages())

	// Slot released: a new transform is accepted.
	h.send(protocol.Transform, "xfm-2", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
	assert.Equal(t, "xfm-2", h.recv(protocol.SelectedImage).RequestID)
}

func TestTransformFailed_ReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.saveToken()
	h.addImageNode("1", "a")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
	h.recv(protocol.SelectedImage)

	h.send(protocol.TransformFailed, "xfm-1", protocol.Failure{Reason: "acquire"})
	loader, err := protocol.Decode[protocol.Loader](h.recv(protocol.ToggleLoader))
	require.NoError(t, err)
	assert.False(t, loader.Value)
	assert.Equal(t, []string{notify.MsgFailed}, h.notifier.Messages())

	h.send(protocol.Transform, "xfm-2", protocol.TransformRequest{Params: protocol.FormValues{}})
	h.recv(protocol.ToggleLoader)
}

func TestTransform_NoToken(t *testing.T) {
	h := newHarness(t)
	h.addImageNode("1", "a")
	require.NoError(t, h.doc.Select("1"))

	h.send(protocol.Transform, "xfm-1", protocol.TransformRequest{Params: protocol.FormValues{}})
	f, err := protocol.Decode[protocol.Failure](h.recv(protocol.TransformRejected))
	require.NoError(t, err)
	assert.Equal(t, ReasonNoToken, f.Reason)
}

func TestOpenExternalURLAndClose(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.OpenExternalURL, "", protocol.ExternalURL{URL: "https://console.pixelbin.io"})
	h.send(protocol.ClosePlugin, "", nil)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-h.ctx.Done():
		t.Fatal("host did not stop")
	}
	assert.Equal(t, []string{"https://console.pixelbin.io"}, h.notifier.URLs())
}

func TestRun_StopsWhenUIGoesAway(t *testing.T) {
	h := newHarness(t)
	h.ui.Close()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-h.ctx.Done():
		t.Fatal("host did not stop")
	}
}
