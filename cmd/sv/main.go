package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samanvay/internal/app"
	"samanvay/internal/config"
	"samanvay/internal/db"
	"samanvay/internal/domain"
	"samanvay/internal/engine"
	"samanvay/internal/migrate"
	"samanvay/internal/repo"
	"samanvay/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sv",
	Short: "Samanvay CLI",
	Long: `Samanvay coordinates infrastructure projects across government agencies.
Concepts:
- Workspace: the .samanvay directory holding the coordination database.
- Workflow: one project's journey from creation to completion; each project
  has exactly one workflow, advanced by agency actions.
- Agencies: implementing (creates projects), nodal (reviews and approves),
  executing (does the work), monitoring (tracks progress and closes out).
- Stages: created -> notified_nodal -> under_review -> approved ->
  assigned_executing -> in_execution -> monitoring -> completed;
  rejected is a terminal exit during review.
- Notifications: inbox messages agencies receive as workflows move.
- Event log: per-workflow history of every action, view with 'sv workflow events'.`,
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
	viper.SetEnvPrefix("SAMANVAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agency-id", "", "default acting agency")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agency-id", rootCmd.PersistentFlags().Lookup("agency-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(agencyCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.LoadOptional(workspace)
				if err != nil {
					return err
				}
				if err := app.SeedAgencies(ctx, r, cfg); err != nil {
					return err
				}
				fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	return cmd
}

func agencyCmd() *cobra.Command {
	agency := &cobra.Command{Use: "agency", Short: "Manage agencies"}
	agency.AddCommand(agencyAddCmd())
	agency.AddCommand(agencyListCmd())
	agency.AddCommand(agencyKeyCmd())
	return agency
}

func agencyAddCmd() *cobra.Command {
	var id, name, agencyType, department string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a := domain.Agency{
					ID:         id,
					Name:       name,
					Type:       agencyType,
					Department: department,
					Status:     "active",
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAgency(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "agency id")
	cmd.Flags().StringVar(&name, "name", "", "agency name")
	cmd.Flags().StringVar(&agencyType, "type", "", "agency type (implementing, nodal, executing, monitoring)")
	cmd.Flags().StringVar(&department, "department", "", "department")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func agencyListCmd() *cobra.Command {
	var agencyType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgencies(ctx, agencyType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Department", "Status"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Type, a.Department, a.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agencyType, "type", "", "filter by type")
	return cmd
}

func agencyKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage agency API keys"}
	key.AddCommand(agencyKeyIssueCmd())
	key.AddCommand(agencyKeyListCmd())
	key.AddCommand(agencyKeyRevokeCmd())
	return key
}

func agencyKeyIssueCmd() *cobra.Command {
	var agencyID, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key for an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetAgency(ctx, agency); err != nil {
					return err
				}
				raw := uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					AgencyID:  agency,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": k.ID, "agency_id": k.AgencyID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func agencyKeyListCmd() *cobra.Command {
	var agencyID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, agency)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id")
	return cmd
}

func agencyKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage project workflows"}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowEventsCmd())
	wf.AddCommand(workflowPendingCmd())
	wf.AddCommand(workflowNotifyCmd())
	wf.AddCommand(workflowReviewCmd())
	wf.AddCommand(workflowApproveCmd())
	wf.AddCommand(workflowRejectCmd())
	wf.AddCommand(workflowStartCmd())
	wf.AddCommand(workflowProgressCmd())
	wf.AddCommand(workflowCompleteCmd())
	return wf
}

func workflowCreateCmd() *cobra.Command {
	var projectID, agencyID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.Initialize(ctx, projectID, agency)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&agencyID, "agency", "", "implementing agency id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.Store.FindByProjectID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	return cmd
}

func workflowListCmd() *cobra.Command {
	var stage string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkflows(ctx, repo.WorkflowFilters{Stage: stage, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Stage", "Implementing", "Nodal", "Executing", "Monitoring", "Updated"})
				for _, wf := range items {
					tw.AppendRow(table.Row{
						wf.ProjectID,
						wf.CurrentStage,
						wf.ImplementingAgency,
						derefString(wf.NodalAgency),
						strings.Join(wf.ExecutingAgencies, ","),
						derefString(wf.MonitoringAgency),
						wf.UpdatedAt,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func workflowEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <project-id>",
		Short: "Show a workflow's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.Store.FindByProjectID(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf.History)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Stage", "Action", "Actor", "Notes", "TS"})
				for _, evt := range wf.History {
					tw.AppendRow(table.Row{evt.Seq, evt.Stage, evt.Action, evt.ActorID, evt.Notes, evt.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowPendingCmd() *cobra.Command {
	var agencyID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List workflows awaiting action by an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPendingForAgency(ctx, agency)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id")
	return cmd
}

func workflowNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <project-id>",
		Short: "Notify the nodal tier that a project awaits review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.NotifyNodal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	return cmd
}

func workflowReviewCmd() *cobra.Command {
	var agencyID string
	cmd := &cobra.Command{
		Use:   "review <project-id>",
		Short: "Begin nodal review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.BeginReview(ctx, args[0], agency)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "nodal agency id")
	return cmd
}

func workflowApproveCmd() *cobra.Command {
	var agencyID, notes string
	cmd := &cobra.Command{
		Use:   "approve <project-id>",
		Short: "Approve a project under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.DecideNodal(ctx, args[0], agency, true, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "nodal agency id")
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	return cmd
}

func workflowRejectCmd() *cobra.Command {
	var agencyID, notes string
	cmd := &cobra.Command{
		Use:   "reject <project-id>",
		Short: "Reject a project under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.DecideNodal(ctx, args[0], agency, false, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "nodal agency id")
	cmd.Flags().StringVar(&notes, "notes", "", "rejection reason")
	return cmd
}

func workflowStartCmd() *cobra.Command {
	var agencyID string
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start execution of an assigned project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.StartExecution(ctx, args[0], agency)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "executing agency id")
	return cmd
}

func workflowProgressCmd() *cobra.Command {
	var agencyID, progressJSON, status string
	var percent int
	cmd := &cobra.Command{
		Use:   "progress <project-id>",
		Short: "Record a progress update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := map[string]any{}
			if progressJSON != "" {
				if err := json.Unmarshal([]byte(progressJSON), &progress); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
			}
			if cmd.Flags().Changed("percent") {
				progress["percent_complete"] = percent
			}
			if status != "" {
				progress["status"] = status
			}
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.RecordProgress(ctx, args[0], agency, progress)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "executing agency id")
	cmd.Flags().StringVar(&progressJSON, "data", "", "progress payload as JSON")
	cmd.Flags().IntVar(&percent, "percent", 0, "percent complete")
	cmd.Flags().StringVar(&status, "status", "", "short status line")
	return cmd
}

func workflowCompleteCmd() *cobra.Command {
	var agencyID, reportJSON string
	cmd := &cobra.Command{
		Use:   "complete <project-id>",
		Short: "Mark a monitored project completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report map[string]any
			if reportJSON != "" {
				if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
					return fmt.Errorf("invalid --report JSON: %w", err)
				}
			}
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.Complete(ctx, args[0], agency, report)
				if err != nil {
					return err
				}
				return printJSONOrTable(wf)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "monitoring agency id")
	cmd.Flags().StringVar(&reportJSON, "report", "", "final report as JSON")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var agencyID string
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show an agency's notification inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			agency, err := actingAgency(agencyID)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotificationsForAgency(ctx, agency, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "From", "Subject", "Priority", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.Type, n.SourceAgency, n.Subject, n.Priority, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Workflow counts per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountByStage(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Count"})
				for _, stage := range domain.Stages {
					if c, ok := counts[stage]; ok {
						tw.AppendRow(table.Row{stage, c})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if err := app.SeedAgencies(cmd.Context(), r, cfg); err != nil {
				return err
			}
			e := app.NewEngine(r, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:               os.Getenv("SAMANVAY_JWT_SECRET"),
				AllowLegacyAgencyHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("SAMANVAY_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Repo: r, AppCfg: cfg, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Samanvay API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-agency-header", false, "trust the X-Agency-Id header (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := config.LoadOptional(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		return fn(ctx, app.NewEngine(r, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
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

// actingAgency resolves the per-command --agency flag, falling back to the
// persistent --agency-id (or SAMANVAY_AGENCY_ID).
func actingAgency(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if id := viper.GetString("agency-id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("--agency (or --agency-id) is required")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
