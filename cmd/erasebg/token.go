package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/erasebg-relay/internal/auth"
	"github.com/fpang/erasebg-relay/internal/awsboot"
	"github.com/fpang/erasebg-relay/internal/cli"
	"github.com/fpang/erasebg-relay/internal/relay"
)

var (
	editTokenFlag bool
	ssmParamFlag  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the saved Erase.bg API token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Verify a token and save it",
	Long: `Verify a token against Pixelbin and save it with its organisation and
cloud name. Without an argument the token is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			token = cli.PromptForToken(os.Stdin, cmd.ErrOrStderr())
		}
		return saveToken(cmd, token)
	},
}

var tokenImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Read a token from SSM Parameter Store, verify it and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		clients, err := awsboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		token, err := awsboot.LoadParameter(ctx, clients.SSM, ssmParamFlag)
		if err != nil {
			return err
		}
		return saveToken(cmd, token)
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Forget the saved token",
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

		had, err := s.DeleteCredential(ctx)
		if err != nil {
			return err
		}
		if had {
			fmt.Fprintln(cmd.OutOrStdout(), "Token deleted")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No token saved")
		}
		return nil
	},
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved token's organisation and credit usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		e, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		s, err := e.openSession(ctx, nil, relay.WithTokenEditing(editTokenFlag))
		if err != nil {
			return err
		}
		defer closeSession(s)

		v, err := s.Ready(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatStatus(v))
		return nil
	},
}

func init() {
	tokenStatusCmd.Flags().BoolVar(&editTokenFlag, "edit-token", false, "Launch in token-edit mode")
	tokenImportCmd.Flags().StringVar(&ssmParamFlag, "ssm-param", "", "SSM parameter holding the token (SecureString allowed)")
	tokenImportCmd.MarkFlagRequired("ssm-param")

	tokenCmd.AddCommand(tokenSetCmd, tokenImportCmd, tokenDeleteCmd, tokenStatusCmd)
}

func saveToken(cmd *cobra.Command, token string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	s, err := e.openSession(ctx, nil, relay.WithTokenEditing(true))
	if err != nil {
		return err
	}
	defer closeSession(s)

	v, err := s.SetCredential(ctx, token)
	var valErr *auth.ValidationError
	if errors.As(err, &valErr) {
		return errors.New(cli.DescribeValidationError(valErr))
	}
	if err != nil {
		return err
	}
	if settled, err := s.Ready(ctx); err == nil {
		v = settled
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatStatus(v))
	return nil
}
