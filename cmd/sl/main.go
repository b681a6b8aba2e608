package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shotline/internal/app"
	"shotline/internal/config"
	"shotline/internal/db"
	"shotline/internal/domain"
	"shotline/internal/engine"
	"shotline/internal/repo"
	"shotline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shotline CLI",
	Long: `Shotline tracks media production jobs from request to delivery.
Core concepts:
- Workspace: the .shotline directory holding the SQLite database; settings live in shotline.yml next to it ('sl init' writes both).
- Org: the customer account that owns projects. Actors without an org are studio staff and work across all accounts.
- Project: one capture job walking requested -> assigned -> captured -> processing -> qa -> delivered -> approved, with archived as the exit for cancellations.
- Transitions: every move is checked against the lifecycle table (which roles may take it, whether QA must have signed off) and lands in the audit ledger whether it was applied or rejected.
- QA check: one review round over the submitted assets. A reviewer works the checklist; approving releases the project to delivered, rejecting sends it back to captured for a retake.
- Audit ledger: append-only history of every attempt, view with 'sl audit tail'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "ops", "acting actor id (must exist, see 'sl actor add')")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(qaCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Writes a default shotline.yml if none exists, runs migrations, and seeds the orgs and actors listed in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			wrote := false
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				wrote = true
			} else if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), app.Options{Workspace: workspace})
			if err != nil {
				return err
			}
			defer a.Close()
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"workspace":      workspace,
					"config":         cfgPath,
					"config_written": wrote,
					"database":       db.Path(workspace),
				})
			}
			if wrote {
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready, database at %s\n", db.Path(workspace))
			for _, o := range a.Config.Seed.Orgs {
				fmt.Printf("  org %s (%s)\n", o.ID, o.Name)
			}
			for _, act := range a.Config.Seed.Actors {
				fmt.Printf("  actor %s (%s)\n", act.ID, act.Role)
			}
			return nil
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectGetCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectTransitionCmd())
	prj.AddCommand(projectNextCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, orgID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := resolveCaller(ctx, a, orgID)
				if err != nil {
					return err
				}
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:     id,
					OrgID:  orgID,
					Name:   name,
					Caller: caller,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&orgID, "org", "", "owning org id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Repo.GetProject(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Org", "Name", "Status", "Version", "Assignee"})
				for _, p := range projects {
					assignee := ""
					if p.AssigneeID != nil {
						assignee = *p.AssigneeID
					}
					tw.AppendRow(table.Row{p.ID, p.OrgID, p.Name, p.Status, p.Version, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrgID, "org", "", "org filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func projectTransitionCmd() *cobra.Command {
	var to, reason, assignee string
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Apply a status transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForProject(ctx, a, projectID)
				if err != nil {
					return err
				}
				req := engine.TransitionRequest{
					ProjectID:  projectID,
					To:         domain.ProjectStatus(to),
					Caller:     caller,
					Reason:     reason,
					AssigneeID: assignee,
				}
				if cmd.Flags().Changed("expected-version") {
					req.ExpectedVersion = &expectedVersion
				}
				p, entry, err := a.Engine.ApplyTransition(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "audit": entry})
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded in the ledger")
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version the caller last read")
	cmd.Flags().StringVar(&assignee, "assignee", "", "technician actor id (for requested -> assigned)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func projectNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show valid next states for the acting role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForProject(ctx, a, projectID)
				if err != nil {
					return err
				}
				rules, err := a.Engine.NextTransitions(ctx, projectID, caller.Role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"To", "Approval", "Description"})
				for _, r := range rules {
					tw.AppendRow(table.Row{r.To, r.RequiresApproval, r.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func qaCmd() *cobra.Command {
	qa := &cobra.Command{
		Use:   "qa",
		Short: "Manage QA checks",
		Long:  "A QA check opens pending, moves to under_review when a reviewer picks it up, and ends approved, rejected, or changes_requested. Approving delivers the project; rejecting sends it back to captured.",
	}
	qa.AddCommand(qaOpenCmd())
	qa.AddCommand(qaShowCmd())
	qa.AddCommand(qaActiveCmd())
	qa.AddCommand(qaUpdateCmd())
	qa.AddCommand(qaStartReviewCmd())
	qa.AddCommand(qaApproveCmd())
	qa.AddCommand(qaRequestChangesCmd())
	qa.AddCommand(qaRejectCmd())
	qa.AddCommand(qaResubmitCmd())
	return qa
}

func qaOpenCmd() *cobra.Command {
	var assets, items, optionalItems []string
	cmd := &cobra.Command{
		Use:   "open <project-id>",
		Short: "Open a QA check",
		Long:  "Opens a fresh check over the given assets. Without --item flags the checklist template from shotline.yml is used.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			specs := make([]engine.ChecklistItemSpec, 0, len(items)+len(optionalItems))
			for _, label := range items {
				specs = append(specs, engine.ChecklistItemSpec{Label: label, Required: true})
			}
			for _, label := range optionalItems {
				specs = append(specs, engine.ChecklistItemSpec{Label: label})
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForProject(ctx, a, projectID)
				if err != nil {
					return err
				}
				c, err := a.Engine.OpenCheck(ctx, engine.OpenCheckOptions{
					ProjectID: projectID,
					AssetIDs:  assets,
					Checklist: specs,
					Caller:    caller,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&assets, "asset", []string{}, "asset id under review (repeatable)")
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "required checklist item label (repeatable)")
	cmd.Flags().StringArrayVar(&optionalItems, "optional-item", []string{}, "optional checklist item label (repeatable)")
	return cmd
}

func qaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <check-id>",
		Short: "Show a QA check and its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.GetCheck(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func qaActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active <project-id>",
		Short: "Show the project's unresolved check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.ActiveCheck(ctx, projectID)
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("no active check for project %s", projectID)
					}
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func qaUpdateCmd() *cobra.Command {
	var done, undone []string
	cmd := &cobra.Command{
		Use:   "update <check-id>",
		Short: "Update checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			updates := make([]engine.ChecklistUpdate, 0, len(done)+len(undone))
			for _, itemID := range done {
				updates = append(updates, engine.ChecklistUpdate{ItemID: itemID, Completed: true})
			}
			for _, itemID := range undone {
				updates = append(updates, engine.ChecklistUpdate{ItemID: itemID})
			}
			if len(updates) == 0 {
				return fmt.Errorf("nothing to update; pass --done or --undone")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.UpdateChecklist(ctx, id, updates, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&done, "done", []string{}, "checklist item id to mark completed (repeatable)")
	cmd.Flags().StringArrayVar(&undone, "undone", []string{}, "checklist item id to mark incomplete (repeatable)")
	return cmd
}

func qaStartReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-review <check-id>",
		Short: "Claim a pending check for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.StartReview(ctx, id, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func qaApproveCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <check-id>",
		Short: "Approve the check and deliver the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.ApproveCheck(ctx, id, caller, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func qaRequestChangesCmd() *cobra.Command {
	var notes string
	var reopen []string
	cmd := &cobra.Command{
		Use:   "request-changes <check-id>",
		Short: "Send the check back to the technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			updates := make([]engine.ChecklistUpdate, 0, len(reopen))
			for _, itemID := range reopen {
				updates = append(updates, engine.ChecklistUpdate{ItemID: itemID})
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.RequestChanges(ctx, id, updates, notes, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "what needs fixing")
	cmd.Flags().StringArrayVar(&reopen, "reopen", []string{}, "checklist item id to flag incomplete (repeatable)")
	return cmd
}

func qaRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <check-id>",
		Short: "Reject the check and send the project back to captured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.RejectCheck(ctx, id, reason, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the submission failed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func qaResubmitCmd() *cobra.Command {
	var assets []string
	cmd := &cobra.Command{
		Use:   "resubmit <check-id>",
		Short: "Resubmit after changes were requested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller, err := callerForCheck(ctx, a, id)
				if err != nil {
					return err
				}
				c, err := a.Engine.Resubmit(ctx, id, assets, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&assets, "asset", []string{}, "replacement asset id (repeatable; omit to keep the current set)")
	return cmd
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{Use: "audit", Short: "Inspect the audit ledger"}
	aud.AddCommand(auditTailCmd())
	return aud
}

func auditTailCmd() *cobra.Command {
	var limit int
	var outcome string
	cmd := &cobra.Command{
		Use:   "tail <project-id>",
		Short: "Show the latest audit entries for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Repo.ListAudit(ctx, repo.AuditFilters{
					ProjectID: projectID,
					Outcome:   outcome,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Actor", "Role", "From", "To", "Outcome", "Detail"})
				for _, entry := range entries {
					detail := ""
					if entry.Reason != nil {
						detail = *entry.Reason
					}
					if entry.RejectReason != nil {
						detail = *entry.RejectReason
					}
					tw.AppendRow(table.Row{entry.Seq, entry.ActorID, entry.ActorRole, entry.FromStatus, entry.ToStatus, entry.Outcome, detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome filter (applied, rejected)")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage customer orgs"}
	org.AddCommand(orgAddCmd())
	org.AddCommand(orgListCmd())
	return org
}

func orgAddCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an org",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Engine.CreateOrg(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "org id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orgs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListOrgs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	actor.AddCommand(actorAddCmd())
	actor.AddCommand(actorListCmd())
	return actor
}

func actorAddCmd() *cobra.Command {
	var id, name, role, orgID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				act, err := a.Engine.CreateActor(ctx, domain.Actor{
					ID:    id,
					OrgID: orgID,
					Name:  name,
					Role:  domain.Role(role),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(act)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role (admin, sales_lead, technician, approver, customer_owner, customer_viewer, public)")
	cmd.Flags().StringVar(&orgID, "org", "", "org id (omit for studio staff)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListActors(ctx, orgID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "org filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyIssueCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyIssueCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "issue <actor-id>",
		Short: "Issue an API key for an actor",
		Long:  "Prints the raw key exactly once; only its hash is stored.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo.GetActor(ctx, actorID); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("actor %s not found; add it with 'sl actor add'", actorID)
					}
					return err
				}
				raw, err := newAPIKey()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := a.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actorID, "key": raw})
				}
				fmt.Printf("API key %s for %s (shown once, store it now):\n%s\n", key.ID, actorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <actor-id>",
		Short: "List an actor's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.RevokeAPIKey(ctx, id, time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if addr == "" {
				addr = ":8170"
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			jwtSecret := a.Config.Server.Auth.JWTSecret
			if env := os.Getenv("SL_JWT_SECRET"); env != "" {
				jwtSecret = env
			}
			allowHeader := a.Config.Server.Auth.AllowActorHeader
			if jwtSecret == "" && !allowHeader {
				return fmt.Errorf("auth not configured: set server.auth.jwt_secret (or SL_JWT_SECRET) or enable allow_actor_header")
			}
			if jwtSecret == "" {
				logger.Warn("jwt secret not set; bearer tokens are disabled")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        jwtSecret,
					AllowActorHeader: allowHeader,
					Logger:           logger.Named("http"),
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(a.Engine, logger.Named("webhook"))
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Shotline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from shotline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveCaller looks up the acting actor and scopes it against the org that
// owns the resource being touched. Actors without an org are studio staff
// and match every org.
func resolveCaller(ctx context.Context, a *app.App, orgID string) (engine.Caller, error) {
	actorID := viper.GetString("actor-id")
	if actorID == "" {
		return engine.Caller{}, fmt.Errorf("--actor-id required")
	}
	actor, err := a.Repo.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return engine.Caller{}, fmt.Errorf("actor %s not found; add it with 'sl actor add'", actorID)
		}
		return engine.Caller{}, err
	}
	return engine.Caller{
		ActorID:  actor.ID,
		Role:     actor.Role,
		OrgMatch: actor.OrgID == "" || actor.OrgID == orgID,
	}, nil
}

func callerForProject(ctx context.Context, a *app.App, projectID string) (engine.Caller, error) {
	p, err := a.Repo.GetProject(ctx, projectID)
	if err != nil {
		return engine.Caller{}, err
	}
	return resolveCaller(ctx, a, p.OrgID)
}

func callerForCheck(ctx context.Context, a *app.App, checkID string) (engine.Caller, error) {
	c, err := a.Repo.GetCheck(ctx, checkID)
	if err != nil {
		return engine.Caller{}, err
	}
	return callerForProject(ctx, a, c.ProjectID)
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

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "slk_" + hex.EncodeToString(buf), nil
}
