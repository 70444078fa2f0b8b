package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/erasebg-relay/internal/store"
	"github.com/fpang/erasebg-relay/internal/ui"
)

var resetAllFlag bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the saved form values",
	Long: `reset drops the saved form values so the next apply starts from the
defaults. With --all the saved token is dropped as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		e, err := bootstrap(ctx)
		if err != nil {
			return err
		}

		if !resetAllFlag {
			if err := e.store.Delete(ctx, store.KeyFormValue); err != nil {
				return fmt.Errorf("reset form values: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved form values cleared")
			return nil
		}

		n, err := clearAll(ctx, e.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d saved value(s)\n", n)
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the Pixelbin console page where API tokens are created",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		e, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		s, err := e.openSession(ctx, nil)
		if err != nil {
			return err
		}
		defer closeSession(s)

		fmt.Fprintln(cmd.OutOrStdout(), ui.ConsoleURL)
		return s.UI.OpenExternalURL(ui.ConsoleURL)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetAllFlag, "all", false, "Also forget the saved token")
}

// clearer is implemented by stores that can drop a whole namespace at once.
type clearer interface {
	Clear(ctx context.Context) (int, error)
}

func clearAll(ctx context.Context, st store.Store) (int, error) {
	if c, ok := st.(clearer); ok {
		return c.Clear(ctx)
	}
	n := 0
	for _, key := range []string{store.KeyToken, store.KeyCloudName, store.KeyOrgID, store.KeyFormValue} {
		if _, err := st.Get(ctx, key); err != nil {
			continue
		}
		if err := st.Delete(ctx, key); err != nil {
			return n, fmt.Errorf("delete %s: %w", key, err)
		}
		n++
	}
	return n, nil
}
