package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"combinados/internal/app"
	"combinados/internal/config"
	"combinados/internal/db"
	"combinados/internal/domain"
	"combinados/internal/engine"
	"combinados/internal/migrate"
	"combinados/internal/repo"
	"combinados/internal/report"
	"combinados/internal/server"
	"combinados/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "combinados",
	Short: "Combinados CLI",
	Long: `Combinados tracks corporate agreements from meeting to completion.
An agreement starts PENDING, moves to IN_PROGRESS once every participant
accepts, and completes when the whole checklist is done. Participants accept
or reject (with a justification), work their assigned checklist items, and
follow activity through notifications and the audit trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COMBINADOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(agreementCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(deadlinesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func agreementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agreement", Short: "Manage agreements"}
	cmd.AddCommand(agreementCreateCmd())
	cmd.AddCommand(agreementListCmd())
	cmd.AddCommand(agreementShowCmd())
	cmd.AddCommand(agreementRespondCmd())
	cmd.AddCommand(agreementDeleteCmd())
	cmd.AddCommand(agreementStatusCmd())
	return cmd
}

func agreementCreateCmd() *cobra.Command {
	var (
		title        string
		description  string
		category     string
		meetingDate  string
		dueDate      string
		priority     string
		tags         []string
		participants []string
		items        []string
		draft        bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				opts := engine.CreateAgreementOptions{
					Title:          title,
					Description:    description,
					Category:       category,
					MeetingDate:    meetingDate,
					DueDate:        dueDate,
					Priority:       priority,
					Tags:           tags,
					ParticipantIDs: participants,
					Draft:          draft,
					ActorID:        sess.UserID,
					ActorRoles:     sess.Roles,
				}
				for _, raw := range items {
					opts.Checklist = append(opts.Checklist, parseChecklistItem(raw))
				}
				res, err := e.CreateAgreement(ctx, opts)
				if err != nil {
					return err
				}
				for _, step := range res.Degraded {
					fmt.Fprintf(os.Stderr, "warning: %s step failed; agreement stored without it\n", step)
				}
				return printJSONOrTable(res.Agreement)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "agreement title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&meetingDate, "meeting", "", "meeting date (RFC3339)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&priority, "priority", "MEDIUM", "priority (LOW|MEDIUM|HIGH|URGENT)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant user id (repeatable)")
	cmd.Flags().StringArrayVar(&items, "item", nil, `checklist item "description|assignee_id|due" (repeatable)`)
	cmd.Flags().BoolVar(&draft, "draft", false, "create as DRAFT")
	return cmd
}

// parseChecklistItem splits "description|assignee_id|due"; the trailing
// segments are optional.
func parseChecklistItem(raw string) engine.ChecklistItemInput {
	parts := strings.SplitN(raw, "|", 3)
	item := engine.ChecklistItemInput{Description: parts[0]}
	if len(parts) > 1 {
		item.AssignedToID = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		item.DueDate = strings.TrimSpace(parts[2])
	}
	return item
}

func agreementListCmd() *cobra.Command {
	var status, priority string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agreements visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				items, err := e.ListAgreements(ctx, sess.UserID, sess.Roles, repo.AgreementFilters{
					Status:   status,
					Priority: priority,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				report.RenderTable(os.Stdout, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func agreementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agreement-id>",
		Short: "Agreement detail with participants, checklist, comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				view, err := e.GetAgreementView(ctx, sess.UserID, sess.Roles, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	return cmd
}

func agreementRespondCmd() *cobra.Command {
	var accept, reject bool
	var reason string
	cmd := &cobra.Command{
		Use:   "respond <agreement-id>",
		Short: "Accept or reject an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept == reject {
				return fmt.Errorf("pass exactly one of --accept or --reject")
			}
			status := domain.ParticipantAccepted
			if reject {
				status = domain.ParticipantRejected
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				p, err := e.Respond(ctx, sess.UserID, args[0], status, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the agreement")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the agreement")
	cmd.Flags().StringVar(&reason, "reason", "", "justification (required with --reject)")
	return cmd
}

func agreementDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <agreement-id>",
		Short: "Delete an agreement and everything attached to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				return e.DeleteAgreement(ctx, sess.UserID, sess.Roles, args[0])
			})
		},
	}
	return cmd
}

func agreementStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <agreement-id> <status>",
		Short: "Force an administrative status (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				ag, err := e.SetAdministrativeStatus(ctx, sess.UserID, sess.Roles, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	return cmd
}

func checklistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checklist", Short: "Work agreement checklists"}

	var assignee, due string
	add := &cobra.Command{
		Use:   "add <agreement-id> <description>",
		Short: "Append a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				it, err := e.AddChecklistItem(ctx, sess.UserID, sess.Roles, args[0], engine.ChecklistItemInput{
					Description:  args[1],
					AssignedToID: assignee,
					DueDate:      due,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	add.Flags().StringVar(&assignee, "assignee", "", "assigned user id")
	add.Flags().StringVar(&due, "due", "", "item due date (RFC3339)")

	mine := &cobra.Command{
		Use:   "mine <agreement-id>",
		Short: "List the items assigned to the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				items, err := e.ListAssignedChecklistItems(ctx, sess.UserID, sess.Roles, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	check := &cobra.Command{
		Use:   "check <item-id>",
		Short: "Mark an assigned item complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return toggleItem(cmd.Context(), args[0], true)
		},
	}
	uncheck := &cobra.Command{
		Use:   "uncheck <item-id>",
		Short: "Reopen an assigned item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return toggleItem(cmd.Context(), args[0], false)
		},
	}
	remove := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				return e.RemoveChecklistItem(ctx, sess.UserID, sess.Roles, args[0])
			})
		},
	}
	cmd.AddCommand(add, mine, check, uncheck, remove)
	return cmd
}

func toggleItem(ctx context.Context, itemID string, completed bool) error {
	return withSession(ctx, func(ctx context.Context, e engine.Engine, sess app.Session) error {
		it, err := e.ToggleChecklistItem(ctx, sess.UserID, itemID, completed)
		if err != nil {
			return err
		}
		return printJSONOrTable(it)
	})
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "comment", Short: "Comment on agreements"}
	add := &cobra.Command{
		Use:   "add <agreement-id> <content>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				c, err := e.AddComment(ctx, sess.UserID, sess.Roles, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.AddCommand(add)
	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Inbox for the acting user"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				items, err := e.Repo.ListNotifications(ctx, sess.UserID, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max results")
	read := &cobra.Command{
		Use:   "read",
		Short: "Mark everything read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				n, err := e.MarkAllNotificationsRead(ctx, sess.UserID)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d notifications read\n", n)
				return nil
			})
		},
	}
	cmd.AddCommand(list, read)
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Team profiles and roles"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List team profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				profiles, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(profiles)
			})
		},
	}
	grant := &cobra.Command{
		Use:   "grant <user-id> <role>",
		Short: "Grant a role (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				return e.GrantRole(ctx, sess.UserID, sess.Roles, args[0], args[1])
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <user-id> <role>",
		Short: "Revoke a role (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				return e.RevokeRole(ctx, sess.UserID, sess.Roles, args[0], args[1])
			})
		},
	}
	bootstrap := &cobra.Command{
		Use:   "bootstrap-admin <user-id>",
		Short: "Grant ADMIN directly, for first-time workspace setup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				already, err := r.HasRole(ctx, args[0], domain.RoleAdmin)
				if err != nil {
					return err
				}
				if already {
					fmt.Printf("%s already has ADMIN\n", args[0])
					return nil
				}
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureProfile(ctx, tx, args[0], args[0], now); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return r.GrantRole(ctx, args[0], domain.RoleAdmin)
			})
		},
	}
	cmd.AddCommand(list, grant, revoke, bootstrap)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Workspace reports"}
	var format, status, priority string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export the agreement listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				items, err := e.ListAgreements(ctx, sess.UserID, sess.Roles, repo.AgreementFilters{
					Status:   status,
					Priority: priority,
				})
				if err != nil {
					return err
				}
				switch format {
				case "csv":
					report.RenderCSV(os.Stdout, items)
				case "table":
					report.RenderTable(os.Stdout, items)
				case "json":
					return printJSON(items)
				default:
					return fmt.Errorf("unknown format %s", format)
				}
				return nil
			})
		},
	}
	export.Flags().StringVar(&format, "format", "table", "table, csv or json")
	export.Flags().StringVar(&status, "status", "", "status filter")
	export.Flags().StringVar(&priority, "priority", "", "priority filter")

	statusReport := &cobra.Command{
		Use:   "status",
		Short: "Agreement counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountAgreementsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				report.RenderStatusCounts(os.Stdout, counts)
				return nil
			})
		},
	}
	cmd.AddCommand(export, statusReport)
	return cmd
}

func deadlinesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "deadlines", Short: "Deadline housekeeping"}
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue agreements and warn about close deadlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SweepDeadlines(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("overdue: %d, approaching: %d\n", res.Overdue, res.Approaching)
				return nil
			})
		},
	}
	cmd.AddCommand(sweep)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import combinados.yml into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				path := file
				if path == "" {
					path = config.Path(viper.GetString("workspace"))
				}
				cfg, err := config.FromFile(path)
				if err != nil {
					return err
				}
				return r.UpsertWorkspaceConfig(ctx, cfg.Workspace.ID, cfg)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "config file path")
	initCmd := &cobra.Command{
		Use:   "init <workspace-id>",
		Short: "Write a default combinados.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(args[0])), 0o644)
		},
	}
	cmd.AddCommand(show, importCmd, initCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	var fullName string
	var ttlHours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session JWT for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("COMBINADOS_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, viper.GetString("user-id"), fullName, time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name claim")
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 24, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, sess app.Session) error {
				id, key, err := e.MintAPIKey(ctx, sess.UserID, name)
				if err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", id, key)
				fmt.Fprintln(os.Stderr, "store the key now; only its hash is kept")
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveWorkspaceConfig(cmd.Context(), workspace, "", r)
			if err != nil {
				return err
			}
			secret := jwtSecret()
			if secret == "" {
				return fmt.Errorf("COMBINADOS_JWT_SECRET is required for bearer auth")
			}
			e := buildEngine(conn, cfg, workspace, secret)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: secret}})
			if err != nil {
				return err
			}
			defer handler.Close()
			if sweepInterval > 0 {
				go runSweeper(cmd.Context(), e, sweepInterval)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Combinados API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "deadline sweep interval (0 disables)")
	return cmd
}

func runSweeper(ctx context.Context, e engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.SweepDeadlines(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "deadline sweep: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func jwtSecret() string {
	return os.Getenv("COMBINADOS_JWT_SECRET")
}

func buildEngine(conn *sql.DB, cfg *config.Config, workspace, secret string) engine.Engine {
	e := engine.New(conn, cfg)
	e.Store = storage.Store{
		Bucket: filepath.Join(workspace, cfg.Storage.Bucket),
		Secret: secret,
		TTL:    time.Duration(cfg.SignedURLTTL()) * time.Second,
	}
	return e
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveWorkspaceConfig(ctx, workspace, "", r)
	if err != nil {
		return err
	}
	return fn(ctx, buildEngine(conn, cfg, workspace, jwtSecret()))
}

func withSession(ctx context.Context, fn func(context.Context, engine.Engine, app.Session) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		sess, err := app.ResolveSession(ctx, e.Repo, viper.GetString("user-id"), "")
		if err != nil {
			return err
		}
		return fn(ctx, e, sess)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
