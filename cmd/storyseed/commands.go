package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"storyseed/internal/config"
	"storyseed/internal/db"
	"storyseed/internal/domain"
	"storyseed/internal/manifest"
	"storyseed/internal/repo"
	"storyseed/internal/server"
)

func storyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Story files",
		Long:  "A story names the projects, teams and services of an organization and the arcs its history goes through.",
	}
	cmd.AddCommand(storyValidateCmd())
	cmd.AddCommand(storyInitCmd())
	return cmd
}

func storyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <story.yaml>",
		Short: "Validate a story file against the schema and structural rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := config.FromFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d projects, %d teams, %d arcs, %d services)\n",
				args[0], len(story.Projects), len(story.Teams), len(story.Arcs), len(story.Services))
			return nil
		},
	}
}

func storyInitCmd() *cobra.Command {
	var org, out string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter story file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}
			if err := os.WriteFile(out, []byte(config.GenerateExample(org)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "acme", "organization slug")
	cmd.Flags().StringVarP(&out, "out", "o", "story.yaml", "output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Generation runs recorded in the workspace"}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsManifestCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Org", "Seed", "Target", "Months", "Created", "Skipped", "Pending", "Started"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Org, run.Seed, run.Target, run.Months, run.Created, run.Skipped, run.Pending, run.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func runsManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest [run-id]",
		Short: "Show the manifest of a run (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				get := r.LatestRun
				if len(args) == 1 {
					get = func(ctx context.Context) (domain.Run, error) { return r.GetRun(ctx, args[0]) }
				}
				run, err := get(ctx)
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("no such run")
				}
				if err != nil {
					return err
				}
				if run.ManifestJSON == "" {
					return fmt.Errorf("run %s has not finished", run.ID)
				}
				if viper.GetBool("json") {
					_, err := fmt.Fprintln(os.Stdout, run.ManifestJSON)
					return err
				}
				doc, err := manifest.Decode([]byte(run.ManifestJSON))
				if err != nil {
					return err
				}
				fmt.Printf("Run %s (seed %s, %d months)\n", run.ID, doc.Meta.Seed, doc.Meta.Months)
				printManifest(doc)
				return nil
			})
		},
	}
}

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "records", Short: "Records stored by the local target"}
	cmd.AddCommand(recordsListCmd())
	return cmd
}

func recordsListCmd() *cobra.Command {
	var f repo.RecordFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRecords(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Type", "Status", "Summary", "Assignee", "Created"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.Key, rec.IssueType, rec.Status, rec.Summary, rec.Assignee, rec.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectKey, "project", "", "project key")
	cmd.Flags().StringVar(&f.IssueType, "type", "", "issue type")
	cmd.Flags().StringVar(&f.Status, "status", "", "status")
	cmd.Flags().StringVar(&f.Label, "label", "", "label")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum records")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every write of the local target and every run start and finish is logged as an event.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, project string
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, 0, project, evtType)
				if err != nil {
					return err
				}
				if !follow {
					if viper.GetBool("json") {
						return printJSON(events)
					}
					printEvents(events)
					return nil
				}
				slices.Reverse(events)
				var cursor int64
				for {
					for _, e := range events {
						if evtType == "" || e.Type == evtType {
							fmt.Printf("%d\t%s\t%s\t%s\t%s\n", e.ID, e.TS, e.Type, entityRef(e), e.Payload)
						}
						cursor = max(cursor, e.ID)
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					if events, err = r.EventsAfter(ctx, 100, cursor, project); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&project, "project", "", "project key")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	return cmd
}

func printEvents(events []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Project", "Entity", "Payload"})
	for _, e := range events {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectKey, entityRef(e), e.Payload})
	}
	tw.Render()
}

func entityRef(e domain.Event) string {
	return strings.TrimSuffix(e.EntityKind+":"+e.EntityID, ":")
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Assignable accounts of the local target",
		Long:  "The local target resolves --assignees emails against these accounts, like Jira resolves them against its user search.",
	}
	cmd.AddCommand(usersAddCmd())
	return cmd
}

func usersAddCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "add <email>...",
		Short: "Register assignable accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID != "" && len(args) > 1 {
				return fmt.Errorf("--account-id applies to a single email")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				for _, email := range args {
					id := accountID
					if id == "" {
						id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String()
					}
					if err := r.UpsertUser(ctx, email, id); err != nil {
						return err
					}
					fmt.Printf("%s\t%s\n", email, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account-id", "", "explicit account id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				authCfg := server.AuthConfig{
					JWTSecret:      viper.GetString("jwt-secret"),
					AllowAnonymous: anonymous,
					Logger:         slog.Default(),
				}
				if authCfg.JWTSecret == "" && !anonymous {
					return fmt.Errorf("STORYSEED_JWT_SECRET is required for bearer auth (or pass --anonymous)")
				}
				handler, err := server.New(server.Config{Repo: r, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving %s on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", db.Path(viper.GetString("workspace")), addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "serve without authentication")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(viper.GetString("jwt-secret"), subject, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "analyst", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
