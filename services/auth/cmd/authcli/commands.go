package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/services/auth/client/session"
)

// env is what every command needs once flags are parsed.
type env struct {
	cfg    *session.Config
	logger *slog.Logger
	api    *session.APIClient
}

func setup(flags *globalFlags, stderr io.Writer) (*env, error) {
	cfg, err := session.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	log := logger.NewWithOptions(appName, level, logger.FormatText, stderr)
	return &env{cfg: cfg, logger: log, api: session.NewAPIClient(*cfg, log)}, nil
}

type credentials struct {
	email    string
	password string
}

func (c *credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.email, "email", "", "Account email")
	cmd.Flags().StringVar(&c.password, "password", "", "Account password (default $AUTHCLI_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
}

func (c *credentials) resolve() (string, string, error) {
	password := c.password
	if password == "" {
		password = os.Getenv("AUTHCLI_PASSWORD")
	}
	if password == "" {
		return "", "", errors.New("password required: use --password or AUTHCLI_PASSWORD")
	}
	return c.email, password, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loginCmd(flags *globalFlags) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			email, password, err := creds.resolve()
			if err != nil {
				return err
			}
			res, err := e.api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	creds.bind(cmd)
	return cmd
}

func refreshCmd(flags *globalFlags) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rotate a refresh token and print the new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tokens, err := e.api.Refresh(cmd.Context(), token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tokens)
		},
	}
	cmd.Flags().StringVar(&token, "refresh-token", "", "Refresh token to rotate")
	_ = cmd.MarkFlagRequired("refresh-token")
	return cmd
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	var accessToken, refreshToken string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End a session on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessToken == "" && refreshToken == "" {
				return errors.New("need --access-token or --refresh-token")
			}
			e, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := e.api.Logout(cmd.Context(), accessToken, refreshToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token of the session")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token of the session")
	return cmd
}

func whoamiCmd(flags *globalFlags) *cobra.Command {
	var accessToken string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the user an access token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			user, err := e.api.Me(cmd.Context(), accessToken)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token")
	_ = cmd.MarkFlagRequired("access-token")
	return cmd
}
