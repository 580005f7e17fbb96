package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cellvault/internal/adapters/httpapi"
	"cellvault/internal/config"
	"cellvault/internal/identity"
	"cellvault/internal/mutation"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cellvault",
		Short:         "Serve and edit a shared spreadsheet with an audit trail",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CELLVAULT_CONFIG"), "path to a YAML config file")
	root.AddCommand(
		newServeCmd(opts),
		newSeedCmd(opts),
		newSheetsCmd(opts),
		newGetCmd(opts),
		newApplyCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

// withApp loads config, wires the app and closes it once fn returns.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				router := httpapi.NewRouter(httpapi.Options{
					Service:        a.svc,
					Resolver:       a.resolver,
					Logger:         a.logger,
					MetricsHandler: a.metrics,
					MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
				})
				srv := &http.Server{
					Addr:              a.cfg.HTTP.Addr,
					Handler:           router,
					ReadHeaderTimeout: 10 * time.Second,
					ReadTimeout:       a.cfg.HTTP.ReadTimeout,
				}
				errCh := make(chan error, 1)
				go func() {
					a.logger.Info("http server listening", "addr", srv.Addr)
					errCh <- srv.ListenAndServe()
				}()
				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				a.logger.Info("http server shutting down")
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed <file.xlsx>",
		Short: "Upload the initial document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				info, err := a.svc.Seed(ctx, data, force)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"key": info.Key, "size": info.Size, "version": info.ETag})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing document")
	return cmd
}

func newSheetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets",
		Short: "List sheet names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				names, err := a.svc.Sheets(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <sheet> <cell>",
		Short: "Print one cell value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				view, err := a.svc.Cell(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), view.Value.String())
				return nil
			})
		},
	}
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var as, email string
	cmd := &cobra.Command{
		Use:   "apply --as <user> <sheet> <cell> <value> [<sheet> <cell> <value>...]",
		Short: "Apply one or more cell changes as an editor",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%3 != 0 {
				return errors.New("expected sheet, cell and value triples")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if as == "" {
				return errors.New("--as is required")
			}
			changes := make([]mutation.ChangeRequest, 0, len(args)/3)
			for i := 0; i < len(args); i += 3 {
				changes = append(changes, mutation.ChangeRequest{Sheet: args[i], Cell: args[i+1], Value: args[i+2]})
			}
			actor := identity.Identity{UserID: as, Email: email, Role: identity.RoleUser, CanEdit: true}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.svc.ApplyChanges(ctx, actor, changes)
				if err != nil {
					return err
				}
				resp := map[string]any{"changes_applied": out.Applied, "version": out.Handle.Version}
				if out.Warning != nil {
					resp["warning"] = out.Warning.Error()
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "user id recorded in the audit trail")
	cmd.Flags().StringVar(&email, "email", "", "email recorded in the audit trail")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var user string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the newest audit records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			operator := identity.Identity{UserID: "cli", Role: identity.RoleAdmin, CanEdit: true}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				recs, err := a.svc.QueryAudit(ctx, operator, user, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only records by this user id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records (default 100, max 500)")
	return cmd
}
