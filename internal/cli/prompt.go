package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForToken asks for a token on out and reads one line from in.
// Returns an empty string if nothing was entered.
func PromptForToken(in io.Reader, out io.Writer) string {
	fmt.Fprint(out, "Erase.bg API token: ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read token from input")
		return ""
	}
	return strings.TrimSpace(input)
}
