package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

const appTitle = "Erase.bg"

// ErrUnsupportedURL is returned for links that are not absolute http(s) URLs.
var ErrUnsupportedURL = errors.New("only http and https links can be opened")

// Desktop shows native desktop notifications and opens links in the default
// browser.
type Desktop struct {
	// command builds the opener; replaced in tests.
	command func(ctx context.Context, link string) *exec.Cmd
}

// NewDesktop returns a Desktop notifier for the current OS.
func NewDesktop() *Desktop {
	return &Desktop{command: openCommand}
}

func (d *Desktop) Notify(_ context.Context, level Level, msg string) {
	icon := zenity.InfoIcon
	if level == Error {
		icon = zenity.WarningIcon
	}
	if err := zenity.Notify(msg, zenity.Title(appTitle), icon); err != nil {
		log.Debug().Err(err).Msg("Desktop notification unavailable")
	}
}

func (d *Desktop) OpenURL(ctx context.Context, link string) error {
	if err := CheckURL(link); err != nil {
		return err
	}
	cmd := d.command(ctx, link)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", link, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("url", link).Msg("URL opener exited with error")
		}
	}()
	return nil
}

func openCommand(ctx context.Context, link string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", link)
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", link)
	default:
		return exec.CommandContext(ctx, "xdg-open", link)
	}
}

// CheckURL accepts absolute http and https URLs with a host.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	return nil
}
