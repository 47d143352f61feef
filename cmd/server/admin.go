package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/health"
	"github.com/ashureev/chatdesk/internal/history"
	"github.com/ashureev/chatdesk/internal/subscription"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Inspect and change user subscriptions",
	}

	var status string
	set := &cobra.Command{
		Use:   "set <user-id> <plan-id>",
		Short: "Place a user on a plan for one billing period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, env *adminEnv) error {
				sub, err := env.subs.Set(ctx, args[0], args[1], domain.SubscriptionStatus(status))
				if err != nil {
					return err
				}
				return printJSON(cmd, sub)
			})
		},
	}
	set.Flags().StringVar(&status, "status", string(domain.SubscriptionActive), "subscription status (active, canceled, expired)")

	get := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show a user's effective subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, env *adminEnv) error {
				return printJSON(cmd, env.subs.Get(ctx, args[0]))
			})
		},
	}

	plans := &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, env *adminEnv) error {
				return printJSON(cmd, env.subs.Plans())
			})
		},
	}

	cmd.AddCommand(set, get, plans)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and clear completion history",
	}

	stats := &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show aggregate usage for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, env *adminEnv) error {
				st, err := env.history.Stats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Delete every history entry for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, env *adminEnv) error {
				n, err := env.history.Clear(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"deleted": n})
			})
		},
	}

	cmd.AddCommand(stats, clearCmd)
	return cmd
}

func newHealthcheckCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if cfg.GRPCPort == "" {
					return fmt.Errorf("gRPC health endpoint is disabled (GRPC_PORT is empty)")
				}
				addr = "localhost:" + cfg.GRPCPort
			}

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), timeout)
			defer cancel()

			st, err := health.Probe(ctx, addr, health.ServiceName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %s is %s", health.ServiceName, st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health endpoint address (defaults to localhost:$GRPC_PORT)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
	return cmd
}

// adminEnv is the subset of server wiring the admin commands need.
type adminEnv struct {
	subs    *subscription.Source
	history *history.Recorder
}

func withRepo(ctx context.Context, fn func(ctx context.Context, env *adminEnv) error) error {
	ctx = contextOrBackground(ctx)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	catalog, err := subscription.LoadCatalog(cfg.PlansFile)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}
	return fn(ctx, &adminEnv{
		subs:    subscription.NewSource(repo, catalog, cfg.Quota.FreeTierTokens),
		history: history.NewRecorder(repo),
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
