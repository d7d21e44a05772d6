package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	authx "github.com/DanHUMassMed/judging-authx"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Print the claims of an access token without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := authx.DecodeClaims(args[0])
			if err != nil {
				return err
			}
			printClaims(cmd.OutOrStdout(), claims)
			return nil
		},
	}
}

func newLoginCmd(opts *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in and print the resulting session.

With --watch the session stays open and the access token is refreshed shortly
before it expires until the command is interrupted. The session is signed out
on exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password := passwordFlag(cmd)
			if err := authx.ValidateCredentials(email, password); err != nil {
				return err
			}

			m, err := opts.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			ctx := cmd.Context()
			if err := m.Login(ctx, email, password); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printState(out, m.Snapshot())
			if !watch {
				return nil
			}

			unsubscribe := m.Subscribe(func(st authx.State) {
				if !st.Refreshing && !st.Loading {
					printState(out, st)
				}
			})
			defer unsubscribe()

			<-ctx.Done()
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.cfg.HTTPTimeout)
			defer cancel()
			m.Logout(logoutCtx)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (env AUTHX_PASSWORD)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep the session alive until interrupted")
	return cmd
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Sign in with a one-time token from a verification or magic-link email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.MagicLink(cmd.Context(), args[0]); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), m.Snapshot())
			return nil
		},
	}
}

func newRegisterCmd(opts *options) *cobra.Command {
	var reg authx.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; the Auth Service emails a verification link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg.Password = passwordFlag(cmd)
			api, err := authx.NewHTTPAuthAPI(opts.cfg, authx.WithAuthLogger(opts.logger))
			if err != nil {
				return err
			}
			user, err := api.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id %d); check your inbox to verify the account\n", user.Email, user.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.FirstName, "first-name", "", "First name")
	f.StringVar(&reg.LastName, "last-name", "", "Last name")
	f.StringVar(&reg.Email, "email", "", "Account email")
	f.StringVar(&reg.Organization, "organization", "", "Organization")
	f.String("password", "", "Account password (env AUTHX_PASSWORD)")
	return cmd
}

func newMagicLinkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "magic-link EMAIL",
		Short: "Request a passwordless sign-in email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := authx.NewHTTPAuthAPI(opts.cfg, authx.WithAuthLogger(opts.logger))
			if err != nil {
				return err
			}
			if err := api.SendMagicLink(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sign-in link sent to %s\n", args[0])
			return nil
		},
	}
}

func newPostersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posters",
		Short: "Manage your posters through the refreshing client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().String("email", "", "Account email")
	cmd.PersistentFlags().String("password", "", "Account password (env AUTHX_PASSWORD)")

	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List posters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPosters(cmd, opts, func(ctx context.Context, c *authx.PosterClient) (any, error) {
				return c.List(ctx, page, limit)
			})
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	list.Flags().IntVar(&limit, "limit", 10, "Posters per page")

	var np authx.NewPoster
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a poster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPosters(cmd, opts, func(ctx context.Context, c *authx.PosterClient) (any, error) {
				return c.Create(ctx, np)
			})
		},
	}
	create.Flags().StringVar(&np.Title, "title", "", "Poster title")
	create.Flags().StringVar(&np.Author, "author", "", "Poster author")
	create.Flags().Float64Var(&np.Score, "score", 0, "Poster score")

	var up authx.Poster
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Replace a poster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("poster id %q: %w", args[0], err)
			}
			up.ID = id
			return withPosters(cmd, opts, func(ctx context.Context, c *authx.PosterClient) (any, error) {
				return c.Update(ctx, up)
			})
		},
	}
	update.Flags().StringVar(&up.Title, "title", "", "Poster title")
	update.Flags().StringVar(&up.Author, "author", "", "Poster author")
	update.Flags().Float64Var(&up.Score, "score", 0, "Poster score")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a poster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("poster id %q: %w", args[0], err)
			}
			return withPosters(cmd, opts, func(ctx context.Context, c *authx.PosterClient) (any, error) {
				return c.Delete(ctx, id)
			})
		},
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}

// withPosters signs in, runs fn with an authenticated poster client, prints
// its result as JSON and signs out.
func withPosters(cmd *cobra.Command, opts *options, fn func(context.Context, *authx.PosterClient) (any, error)) error {
	email, _ := cmd.Flags().GetString("email")
	password := passwordFlag(cmd)
	if err := authx.ValidateCredentials(email, password); err != nil {
		return err
	}

	m, err := opts.manager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx := cmd.Context()
	if err := m.Login(ctx, email, password); err != nil {
		return err
	}
	defer m.Logout(context.WithoutCancel(ctx))

	result, err := fn(ctx, authx.NewPosterClient(opts.cfg, m.HTTPClient()))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newMintCmd() *cobra.Command {
	cfg := authx.DefaultDevTokenConfig("")
	var secret string
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 access token for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Secret = []byte(secret)
			token, err := authx.MintDevToken(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Email, "email", cfg.Email, "Email claim")
	f.StringVar(&cfg.Subject, "subject", cfg.Subject, "Subject claim (user id)")
	f.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "Token lifetime")
	f.BoolVar(&cfg.OmitExpiry, "no-exp", false, "Omit the exp claim")
	f.StringVar(&secret, "secret", string(cfg.Secret), "HS256 signing secret")
	return cmd
}

func printState(w io.Writer, st authx.State) {
	fmt.Fprintf(w, "status       : %s\n", st.Status())
	if st.Email != "" {
		fmt.Fprintf(w, "email        : %s\n", st.Email)
	}
	if st.Claims.HasExpiry() {
		fmt.Fprintf(w, "expires_at   : %s\n", st.Claims.ExpiresAt.Format(time.RFC3339))
	}
	if !st.NextRefresh.IsZero() {
		fmt.Fprintf(w, "next_refresh : %s\n", st.NextRefresh.Format(time.RFC3339))
	}
}

func printClaims(w io.Writer, claims *authx.AccessClaims) {
	fmt.Fprintf(w, "subject      : %s\n", claims.Subject)
	fmt.Fprintf(w, "email        : %s\n", claims.Email)
	fmt.Fprintf(w, "token_type   : %s\n", claims.TokenType)
	if !claims.IssuedAt.IsZero() {
		fmt.Fprintf(w, "issued_at    : %s\n", claims.IssuedAt.Format(time.RFC3339))
	}
	if claims.HasExpiry() {
		fmt.Fprintf(w, "expires_at   : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "expires_at   : none (proactive refresh disabled)")
	}
	var extra []string
	for k, v := range claims.CustomClaims {
		if k == "email" || k == "token_type" {
			continue
		}
		extra = append(extra, fmt.Sprintf("  %s: %v", k, v))
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		fmt.Fprintln(w, "custom_claims:")
		fmt.Fprintln(w, strings.Join(extra, "\n"))
	}
}
