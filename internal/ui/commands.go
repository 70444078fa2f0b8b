package ui

import (
	"github.com/fpang/erasebg-relay/internal/auth"
	"github.com/fpang/erasebg-relay/internal/pixelbin"
	"github.com/fpang/erasebg-relay/internal/protocol"
	"github.com/fpang/erasebg-relay/internal/transfer"
)

type uiCmd interface{ uiCmd() }

// --- events from the host ---

type cmdHostMessage struct {
	msg protocol.Message
}

func (cmdHostMessage) uiCmd() {}

type cmdHostGone struct {
	err error
}

func (cmdHostGone) uiCmd() {}

// --- completions of async remote calls ---

type cmdVerified struct {
	gen      uint64
	token    string
	restored bool
	identity *auth.Identity
	err      error
}

func (cmdVerified) uiCmd() {}

type cmdUsage struct {
	gen   uint64
	usage *pixelbin.Usage
	err   error
}

func (cmdUsage) uiCmd() {}

type cmdTransferDone struct {
	requestID string
	result    *transfer.Result
	err       error
}

func (cmdTransferDone) uiCmd() {}

// --- user actions ---

type cmdSubmitCredential struct {
	token string
	errCh chan error
}

func (cmdSubmitCredential) uiCmd() {}

type cmdEditCredential struct {
	errCh chan error
}

func (cmdEditCredential) uiCmd() {}

type cmdDeleteCredential struct {
	errCh chan error
}

func (cmdDeleteCredential) uiCmd() {}

type cmdSetOption struct {
	key   string
	value any
	errCh chan error
}

func (cmdSetOption) uiCmd() {}

type cmdReset struct {
	errCh chan error
}

func (cmdReset) uiCmd() {}

type cmdSubmit struct {
	replyCh chan submitReply
}

func (cmdSubmit) uiCmd() {}

type submitReply struct {
	requestID string
	err       error
}

type cmdOpenURL struct {
	url   string
	errCh chan error
}

func (cmdOpenURL) uiCmd() {}

type cmdClose struct {
	errCh chan error
}

func (cmdClose) uiCmd() {}
