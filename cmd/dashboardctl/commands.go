package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"baydigital/internal/repository"
	"baydigital/internal/service"
	"baydigital/pkg/db"
	"baydigital/pkg/outbox"
	"baydigital/pkg/search"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				pool, err := e.db()
				if err != nil {
					return err
				}
				applied, err := db.ApplyMigrations(ctx, pool, e.log)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s): %s\n", len(applied), strings.Join(applied, ", "))
				return nil
			})
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay outbox events",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List events that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				pool, err := e.db()
				if err != nil {
					return err
				}
				events, err := outbox.NewRepository(pool).GetFailedEvents(ctx, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tROUTING KEY\tRETRIES\tCREATED")
				for _, ev := range events {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", ev.ID, ev.RoutingKey, ev.RetryCount, ev.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	failed.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events to list")

	var eventID int64
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Republish a single outbox event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID <= 0 {
				return fmt.Errorf("--id is required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				replayer, err := newReplayer(e)
				if err != nil {
					return err
				}
				if err := replayer.ReplayEvent(ctx, eventID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %d replayed\n", eventID)
				return nil
			})
		},
	}
	replay.Flags().Int64Var(&eventID, "id", 0, "outbox event id")

	var replayLimit int
	replayFailed := &cobra.Command{
		Use:   "replay-failed",
		Short: "Republish failed outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				replayer, err := newReplayer(e)
				if err != nil {
					return err
				}
				n, err := replayer.ReplayFailedEvents(ctx, replayLimit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d event(s)\n", n)
				return nil
			})
		},
	}
	replayFailed.Flags().IntVarP(&replayLimit, "limit", "n", 100, "maximum events to replay")

	cmd.AddCommand(failed, replay, replayFailed)
	return cmd
}

func newReplayer(e *env) (*outbox.ReplayService, error) {
	pool, err := e.db()
	if err != nil {
		return nil, err
	}
	publisher, err := e.mq()
	if err != nil {
		return nil, err
	}
	return outbox.NewReplayService(outbox.NewRepository(pool), publisher, e.log), nil
}

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Social post maintenance",
	}

	var limit int
	publishDue := &cobra.Command{
		Use:   "publish-due",
		Short: "Publish scheduled posts whose time has come",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				pool, err := e.db()
				if err != nil {
					return err
				}
				posts := service.NewSocialService(repository.NewSocialPostRepository(pool, e.log), e.log)
				n, err := posts.PublishDue(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %d post(s)\n", n)
				return nil
			})
		},
	}
	publishDue.Flags().IntVarP(&limit, "limit", "n", 100, "maximum posts to publish")

	cmd.AddCommand(publishDue)
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Ticket search index maintenance",
	}

	var batch int
	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the ticket search index from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				pool, err := e.db()
				if err != nil {
					return err
				}
				meili := search.NewMeili(e.cfg.Search.URL, e.cfg.Search.APIKey, e.log)
				defer meili.Close()
				if !meili.Healthy() {
					return fmt.Errorf("meilisearch at %s is not reachable", e.cfg.Search.URL)
				}

				indexer := service.NewTicketIndexer(repository.NewTicketRepository(pool, e.log), meili, e.log)
				n, err := indexer.Reindex(ctx, batch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d ticket(s)\n", n)
				return nil
			})
		},
	}
	reindex.Flags().IntVar(&batch, "batch", 200, "tickets per index request")

	cmd.AddCommand(reindex)
	return cmd
}

func tenantsCmd() *cobra.Command {
	var limit, offset int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List tenants with their subscription status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				pool, err := e.db()
				if err != nil {
					return err
				}
				admin := service.NewAdminService(repository.NewAccountRepository(pool, e.log))
				tenants, err := admin.ListTenants(ctx, limit, offset)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(tenants)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tBUSINESS\tPLAN\tSTATUS\tOPEN TICKETS")
				for _, t := range tenants {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", t.ID, t.BusinessName, t.Plan, t.SubscriptionStatus, t.OpenTickets)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
