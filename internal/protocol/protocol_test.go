package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewAndDecode(t *testing.T) {
	msg, err := New(SelectedImage, "xfm-1", ImageSelection{
		ImageBytes: []byte{0xff, 0xd8, 0xff},
		ImageName:  "Photo",
		Token:      "abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wire, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var back Message
	if err := json.Unmarshal(wire, &back); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if back.Type != SelectedImage || back.RequestID != "xfm-1" {
		t.Fatalf("envelope mismatch: %+v", back)
	}

	sel, err := Decode[ImageSelection](back)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(sel.ImageBytes) != 3 || sel.ImageBytes[0] != 0xff {
		t.Errorf("image bytes not preserved: %v", sel.ImageBytes)
	}
	if sel.Token != "abc123" {
		t.Errorf("token = %q", sel.Token)
	}
}

func TestNewWithoutPayload(t *testing.T) {
	msg, err := New(InitialCall, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Payload != nil {
		t.Errorf("expected nil payload, got %s", msg.Payload)
	}
	if _, err := Decode[TokenState](msg); err == nil {
		t.Error("expected error decoding an empty payload")
	}
}

func TestNewRejectsUnmarshalable(t *testing.T) {
	if _, err := New(Transform, "", make(chan int)); err == nil {
		t.Error("expected marshal error for channel payload")
	}
}

func TestDirections(t *testing.T) {
	uiSent := []Type{InitialCall, SaveToken, DeleteToken, Transform, ReplaceImage, TransformFailed, OpenExternalURL, ClosePlugin}
	for _, typ := range uiSent {
		if d, ok := DirectionOf(typ); !ok || d != UIToHost {
			t.Errorf("%s: expected UIToHost", typ)
		}
	}
	hostSent := []Type{IsTokenSaved, CreateForm, SelectedImage, TransformRejected, ToggleLoader}
	for _, typ := range hostSent {
		if d, ok := DirectionOf(typ); !ok || d != HostToUI {
			t.Errorf("%s: expected HostToUI", typ)
		}
	}
	if _, ok := DirectionOf("BOGUS"); ok {
		t.Error("unknown type should not have a direction")
	}
}
