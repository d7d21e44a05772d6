package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	authx "github.com/DanHUMassMed/judging-authx"
)

type options struct {
	envFile   string
	baseURL   string
	logFormat string
	logLevel  string

	cfg    authx.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "authx",
		Short: "Exercise the poster judging Auth Service from the command line",
		Long: `authx drives the same session manager the judging app uses: it signs in,
keeps the access token fresh through the refresh cookie and calls the poster
API with a client that retries once after a 401.

Configuration comes from AUTHX_* environment variables, optionally loaded
from a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env", ".env", "Optional path to a .env file")
	flags.StringVar(&opts.baseURL, "base-url", "", "API base URL (overrides AUTHX_BASE_URL)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.AddCommand(
		newDecodeCmd(),
		newLoginCmd(opts),
		newVerifyCmd(opts),
		newPostersCmd(opts),
		newRegisterCmd(opts),
		newMagicLinkCmd(opts),
		newMintCmd(),
	)
	return root
}

func (o *options) init(stderr io.Writer) error {
	logger, err := newLogger(stderr, o.logFormat, o.logLevel)
	if err != nil {
		return err
	}
	o.logger = logger
	slog.SetDefault(logger)

	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := authx.LoadConfig(authx.DefaultEnvPrefix, files...)
	if err != nil {
		return err
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	o.cfg = cfg
	return nil
}

func (o *options) manager() (*authx.Manager, error) {
	return authx.New(o.cfg, authx.WithLogger(o.logger))
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// passwordFlag falls back to AUTHX_PASSWORD so passwords stay out of shell history.
func passwordFlag(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p
	}
	return os.Getenv(authx.DefaultEnvPrefix + "PASSWORD")
}
