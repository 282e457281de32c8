package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/internal/config"
)

func newRootCommand() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "mediapipe",
		Short:         "Media processing and timeline rendering service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "api",
		Short: "Serve the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(logLevel)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runAPI(cmd.Context())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run the enqueuer and the pipeline workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(logLevel)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runWorker(cmd.Context())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run the API and the workers in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			errs := make(chan error, 2)
			go func() { errs <- a.runAPI(ctx) }()
			go func() { errs <- a.runWorker(ctx) }()

			// Either side stopping takes the other down with it.
			err = <-errs
			cancel()
			if err2 := <-errs; err == nil {
				err = err2
			}
			return err
		},
	})

	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

func newTokenCommand() *cobra.Command {
	var userID, email string
	var workspaces []string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HMAC bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			ttl := time.Duration(cfg.JWT.Expiration) * time.Hour
			token, err := auth.NewHMACVerifier(cfg.JWT.Secret).Issue(userID, email, workspaces, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (sub) of the token")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringSliceVar(&workspaces, "workspace", nil, "Workspace the token may access (repeatable); none means unscoped")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
