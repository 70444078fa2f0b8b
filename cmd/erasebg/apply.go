package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/erasebg-relay/internal/cli"
	"github.com/fpang/erasebg-relay/internal/document"
	"github.com/fpang/erasebg-relay/internal/relay"
	"github.com/fpang/erasebg-relay/internal/transfer"
)

var (
	outFlag      string
	industryFlag string
	shadowFlag   bool
	refineFlag   bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <directory> <file>...",
	Short: "Remove the background of one image in a directory",
	Long: `apply opens <directory> as a document, selects <file> and runs one
background removal on it. The result replaces the file, or is written to
--out. Selecting several files or a non-image is rejected the same way the
plugin rejects it.

Options not given on the command line keep their saved values.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write results here instead of over the source")
	applyCmd.Flags().StringVar(&industryFlag, "industry", "", "Industry type: general, ecommerce, car, human")
	applyCmd.Flags().BoolVar(&shadowFlag, "shadow", false, "Add a shadow (cars only)")
	applyCmd.Flags().BoolVar(&refineFlag, "refine", true, "Refine the output")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	dir, err := cli.ResolveDirectory(args[0])
	if err != nil {
		return err
	}

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}

	doc, err := document.OpenDir(dir, outFlag, document.NewHTTPFetcher(e.cfg.HTTPTimeout))
	if err != nil {
		return err
	}
	if err := doc.Select(args[1:]...); err != nil {
		return err
	}

	s, err := e.openSession(ctx, doc, relay.WithTransferObserver(func(j transfer.Job) {
		log.Debug().Str("requestId", j.RequestID).Str("state", j.State.String()).Int("attempt", j.Attempts).Msg("Transfer progress")
	}))
	if err != nil {
		return err
	}
	defer closeSession(s)

	if _, err := s.Ready(ctx); err != nil {
		return err
	}
	if err := applyFlags(cmd, s); err != nil {
		return err
	}

	res, err := s.Apply(ctx)
	if res.Notice != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), res.Notice)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Request: %s\n", res.RequestID)
	fmt.Fprintf(out, "URL:     %s\n", res.URL)
	for _, id := range args[1:] {
		if p, ok := doc.Path(id); ok {
			fmt.Fprintf(out, "Written: %s\n", p)
		}
	}
	return nil
}

// applyFlags copies explicitly set option flags into the form.
func applyFlags(cmd *cobra.Command, s *relay.Session) error {
	flags := cmd.Flags()
	if flags.Changed("industry") {
		if err := s.UI.SetOption("industryType", industryFlag); err != nil {
			return err
		}
	}
	if flags.Changed("shadow") {
		if err := s.UI.SetOption("addShadow", shadowFlag); err != nil {
			return err
		}
	}
	if flags.Changed("refine") {
		if err := s.UI.SetOption("refine", refineFlag); err != nil {
			return err
		}
	}
	return nil
}
