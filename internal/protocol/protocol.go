// Package protocol defines the messages exchanged between the host context
// (document + persistence, no network) and the UI context (network, user
// input). Messages are plain JSON envelopes; every request/response pair of
// a transform carries the same RequestID so a late or duplicate reply can be
// told apart from the one the receiver is waiting for.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type names a message kind.
type Type string

const (
	InitialCall       Type = "INITIAL_CALL"
	IsTokenSaved      Type = "IS_TOKEN_SAVED"
	CreateForm        Type = "CREATE_FORM"
	SaveToken         Type = "SAVE_TOKEN"
	DeleteToken       Type = "DELETE_TOKEN"
	Transform         Type = "TRANSFORM"
	SelectedImage     Type = "SELECTED_IMAGE"
	ReplaceImage      Type = "REPLACE_IMAGE"
	TransformFailed   Type = "TRANSFORM_FAILED"
	TransformRejected Type = "TRANSFORM_REJECTED"
	ToggleLoader      Type = "TOGGLE_LOADER"
	OpenExternalURL   Type = "OPEN_EXTERNAL_URL"
	ClosePlugin       Type = "close-plugin"
)

// Direction says which side sends a message type.
type Direction int

const (
	UIToHost Direction = iota
	HostToUI
)

var directions = map[Type]Direction{
	InitialCall:       UIToHost,
	SaveToken:         UIToHost,
	DeleteToken:       UIToHost,
	Transform:         UIToHost,
	ReplaceImage:      UIToHost,
	TransformFailed:   UIToHost,
	OpenExternalURL:   UIToHost,
	ClosePlugin:       UIToHost,
	IsTokenSaved:      HostToUI,
	CreateForm:        HostToUI,
	SelectedImage:     HostToUI,
	TransformRejected: HostToUI,
	ToggleLoader:      HostToUI,
}

// DirectionOf returns the direction of t and whether t is known.
func DirectionOf(t Type) (Direction, bool) {
	d, ok := directions[t]
	return d, ok
}

// Message is the envelope that crosses the boundary.
type Message struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds a message, marshalling payload when it is non-nil.
func New(t Type, requestID string, payload any) (Message, error) {
	msg := Message{Type: t, RequestID: requestID}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(t Type, requestID string, payload any) Message {
	msg, err := New(t, requestID, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload of m into T.
func Decode[T any](m Message) (T, error) {
	var out T
	if len(m.Payload) == 0 {
		return out, fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return out, nil
}

// FormValues is the flat key/value settings object exchanged on the wire.
type FormValues map[string]any

// Option describes one entry of the option schema on the wire.
type Option struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	Default any      `json:"default"`
	Enum    []string `json:"enum,omitempty"`
}

// TokenState is the payload of IS_TOKEN_SAVED.
type TokenState struct {
	Value          bool       `json:"value"`
	SavedToken     string     `json:"savedToken,omitempty"`
	IsTokenEditing bool       `json:"isTokenEditing"`
	OrgID          string     `json:"orgId,omitempty"`
	SavedCloudName string     `json:"savedCloudName,omitempty"`
	SavedFormValue FormValues `json:"savedFormValue,omitempty"`
}

// FormSpec is the payload of CREATE_FORM.
type FormSpec struct {
	OptionsArray   []Option   `json:"optionsArray"`
	SavedFormValue FormValues `json:"savedFormValue,omitempty"`
}

// TokenSave is the payload of SAVE_TOKEN.
type TokenSave struct {
	Value     string `json:"value"`
	CloudName string `json:"cloudName"`
	OrgID     string `json:"orgId"`
}

// TransformRequest is the payload of TRANSFORM.
type TransformRequest struct {
	Params FormValues `json:"params"`
}

// ImageSelection is the payload of SELECTED_IMAGE.
type ImageSelection struct {
	ImageBytes     []byte `json:"imageBytes"`
	ImageName      string `json:"imageName"`
	Token          string `json:"token"`
	SavedCloudName string `json:"savedCloudName,omitempty"`
}

// Replacement is the payload of REPLACE_IMAGE.
type Replacement struct {
	BgRemovedURL string `json:"bgRemovedUrl"`
}

// Failure is the payload of TRANSFORM_FAILED and TRANSFORM_REJECTED.
type Failure struct {
	Reason string `json:"reason"`
}

// Loader is the payload of TOGGLE_LOADER.
type Loader struct {
	Value bool `json:"value"`
}

// ExternalURL is the payload of OPEN_EXTERNAL_URL.
type ExternalURL struct {
	URL string `json:"url"`
}
