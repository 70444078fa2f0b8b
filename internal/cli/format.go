package cli

import (
	"fmt"
	"strconv"

	"github.com/fpang/erasebg-relay/internal/ui"
)

// FormatCredits renders usage as "used / total credits".
func FormatCredits(used, total float64) string {
	return fmt.Sprintf("%s / %s credits", formatNumber(used), formatNumber(total))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatStatus renders the credential part of a UI view for the terminal.
func FormatStatus(v ui.View) string {
	switch v.State {
	case ui.StateCredentialMissing:
		if v.CredentialError != "" {
			return "No valid token (" + v.CredentialError + ")"
		}
		return "No token saved. Create one at " + ui.ConsoleURL
	case ui.StateCredentialEditing:
		return "Token editing requested"
	case ui.StateFormReady, ui.StateTransformInFlight:
		s := fmt.Sprintf("Token OK\n  Organisation: %s\n  Cloud name:   %s", v.Session.OrgID, v.Session.CloudName)
		switch {
		case v.UsageKnown:
			s += "\n  Usage:        " + FormatCredits(v.Session.CreditsUsed, v.Session.TotalCredit)
		case v.UsageError != "":
			s += "\n  Usage:        unavailable (" + v.UsageError + ")"
		}
		return s
	default:
		return "Plugin state: " + v.State.String()
	}
}
