package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/erp/woosync/internal/infrastructure/auth"
	"github.com/erp/woosync/internal/infrastructure/config"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Subject string
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the ingest API",
		Long: `Sign a bearer token with http.auth.jwt_secret for a client of the
ingest API served by "woosync serve". The token is printed to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return issueToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "client name recorded in the token (required)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func issueToken(cmd *cobra.Command, opts *TokenOptions) error {
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "--ttl must be positive")
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	svc, err := auth.NewJWTService(auth.Config{
		Secret:   cfg.HTTP.Auth.JWTSecret,
		Issuer:   cfg.HTTP.Auth.Issuer,
		Audience: cfg.HTTP.Auth.Audience,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "http.auth.jwt_secret is not configured", err)
	}

	token, expiresAt, err := svc.GenerateToken(opts.Subject, opts.TTL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to sign token", err)
	}
	cmd.PrintErrf("token for %s expires %s\n", opts.Subject, expiresAt.UTC().Format(time.RFC3339))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
