package ui

import (
	"fmt"

	"github.com/fpang/erasebg-relay/internal/options"
	"github.com/fpang/erasebg-relay/internal/protocol"
)

// ConsoleURL is where users create an API token.
const ConsoleURL = "https://console.pixelbin.io/choose-org?redirectTo=settings/apps"

// State is the orchestrator's screen state.
type State int

const (
	StateInit State = iota
	StateCredentialMissing
	StateCredentialEditing
	StateFormReady
	StateTransformInFlight
	StateClosed
)

var stateNames = [...]string{"init", "credential_missing", "credential_editing", "form_ready", "transform_in_flight", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is derived from the current credential and recomputed whenever
// the credential changes.
type Session struct {
	Token       string
	OrgID       string
	CloudName   string
	CreditsUsed float64
	TotalCredit float64
}

// View is an immutable snapshot of the orchestrator for rendering.
type View struct {
	Version uint64
	State   State
	Session Session

	Options []protocol.Option
	Form    options.FormState
	// FormLoaded turns true once the host has sent CREATE_FORM.
	FormLoaded bool

	Loading    bool
	Verifying  bool
	UsageKnown bool

	// CredentialError is set when the last verification failed.
	// CredentialErr holds the underlying error, usually an
	// *auth.ValidationError.
	CredentialError string
	CredentialErr   error
	// UsageError is set when the last usage refresh failed.
	UsageError string
	// LastError describes the last failed or rejected transform.
	LastError string

	RequestID     string
	SubmitEnabled bool
	LastResultURL string
}

// canSubmit is the Submit-button rule.
func canSubmit(state State, loading bool, used, total float64) bool {
	if state != StateFormReady || loading {
		return false
	}
	return total != 0 && used < total
}
