package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/logging"
	"taskline/internal/server"
	"taskline/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks who does what, in which order, across a workspace of projects.
Core concepts:
- Workspace: a directory with a .taskline database and a taskline.yml rulebook.
- Worker: a human or agent; roles from the rulebook expand into permissions.
- Project: projects form a tree; every task belongs to exactly one.
- Task: statuses go backlog -> active -> review -> done; a task whose
  dependencies are unfinished waits in blocked until they complete.
- Dependencies: fixed when the task is created; completing a dependency
  unblocks whoever waited on it.
- Approval: completing with task:approve on your own worker record finishes
  the task outright; otherwise it waits in review for an approver.
- Event log: diary of changes, view with 'tl log tail'.`,
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
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "root", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- worker ---

func workerCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
		Long:  "Workers are the humans and agents tasks get assigned to. Permissions come from the worker record plus whatever its roles expand to in taskline.yml.",
	}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	w.AddCommand(workerShowCmd())
	w.AddCommand(workerUpdateCmd())
	w.AddCommand(workerDeleteCmd())
	w.AddCommand(workerLoadCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var name, workerType string
	var roles, permissions []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				w, err := env.Engine.CreateWorker(ctx, ec, engine.WorkerCreateOptions{
					Name:        name,
					Type:        domain.WorkerType(workerType),
					Roles:       roles,
					Permissions: permissions,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "worker name")
	cmd.Flags().StringVar(&workerType, "type", "human", "worker type (human|agent)")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role id (repeatable)")
	cmd.Flags().StringArrayVar(&permissions, "permission", []string{}, "permission (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workerListCmd() *cobra.Command {
	var workerType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				workers, err := env.Engine.ListWorkers(ctx, ec, storage.WorkerFilter{Type: domain.WorkerType(workerType)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Roles"})
				for _, w := range workers {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Type, strings.Join(w.Roles, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerType, "type", "", "filter by type (human|agent)")
	return cmd
}

func workerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				w, err := env.Engine.GetWorker(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workerUpdateCmd() *cobra.Command {
	var name string
	var roles, permissions []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkerUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("role") {
				opts.Roles = &roles
			}
			if cmd.Flags().Changed("permission") {
				opts.Permissions = &permissions
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				w, err := env.Engine.UpdateWorker(ctx, ec, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "replace roles (repeatable)")
	cmd.Flags().StringArrayVar(&permissions, "permission", []string{}, "replace permissions (repeatable)")
	return cmd
}

func workerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				if err := env.Engine.DeleteWorker(ctx, ec, args[0]); err != nil {
					return err
				}
				return printDeleted("worker", args[0])
			})
		},
	}
	return cmd
}

func workerLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "Show open-task load for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				load, err := env.Engine.GetWorkerLoad(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(load)
			})
		},
	}
	return cmd
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects own tasks and can nest. Archiving a project archives its whole subtree once every task in it is done.",
	}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectStatsCmd())
	prj.AddCommand(projectMemberCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, description, parentID string
	var members []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.CreateProject(ctx, ec, engine.ProjectCreateOptions{
					Name:        name,
					Description: description,
					ParentID:    parentID,
					MemberIDs:   members,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent project id")
	cmd.Flags().StringArrayVar(&members, "member", []string{}, "member worker id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var parentID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				projects, err := env.Engine.ListProjects(ctx, ec, storage.ProjectFilter{
					ParentID: parentID,
					Status:   domain.ProjectStatus(status),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Parent", "Members"})
				for _, p := range projects {
					parent := ""
					if p.ParentID != nil {
						parent = *p.ParentID
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, parent, len(p.MemberIDs)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "filter by parent project id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active|archived)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.GetProject(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.UpdateProject(ctx, ec, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive project and its sub-projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.ArchiveProject(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an archived, empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				if err := env.Engine.DeleteProject(ctx, ec, args[0]); err != nil {
					return err
				}
				return printDeleted("project", args[0])
			})
		},
	}
	return cmd
}

func projectStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show task counts and completion for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				stats, err := env.Engine.GetProjectStats(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func projectMemberCmd() *cobra.Command {
	member := &cobra.Command{
		Use:   "member",
		Short: "Manage project members",
	}
	member.AddCommand(projectMemberAddCmd())
	member.AddCommand(projectMemberRemoveCmd())
	return member
}

func projectMemberAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <project-id> <worker-id>",
		Short: "Add worker to project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.AddMember(ctx, ec, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectMemberRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <project-id> <worker-id>",
		Short: "Remove worker from project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				p, err := env.Engine.RemoveMember(ctx, ec, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry the work. Create them with dependencies, start when unblocked, complete when done; completion either auto-approves or parks the task in review.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskReopenCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskReadyCmd())
	task.AddCommand(taskBlockedCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var dependsOn []string
	var priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DependsOn = dependsOn
			var prio *domain.Priority
			if cmd.Flags().Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				prio = &p
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				if prio == nil {
					p := env.Cfg.DefaultPriority()
					prio = &p
				}
				opts.Priority = prio
				t, err := env.Engine.CreateTask(ctx, ec, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner worker id")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (P0..P3)")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", []string{}, "dependency task id (repeatable)")
	cmd.Flags().StringVar(&opts.Context, "context", "", "working context")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "goal")
	cmd.Flags().StringVar(&opts.Deliverable, "deliverable", "", "expected deliverable")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func taskListCmd() *cobra.Command {
	var projectID, ownerID, status, priority string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := storage.TaskFilter{
				ProjectID: projectID,
				OwnerID:   ownerID,
				Status:    domain.TaskStatus(status),
			}
			if cmd.Flags().Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				f.Priority = &p
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				tasks, err := env.Engine.ListTasks(ctx, ec, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter (P0..P3)")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.GetTask(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, workContext, goal, deliverable string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				opts.Priority = &p
			}
			if cmd.Flags().Changed("context") {
				opts.Context = &workContext
			}
			if cmd.Flags().Changed("goal") {
				opts.Goal = &goal
			}
			if cmd.Flags().Changed("deliverable") {
				opts.Deliverable = &deliverable
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.UpdateTask(ctx, ec, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority (P0..P3)")
	cmd.Flags().StringVar(&workContext, "context", "", "new working context")
	cmd.Flags().StringVar(&goal, "goal", "", "new goal")
	cmd.Flags().StringVar(&deliverable, "deliverable", "", "new deliverable")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task (refused while others depend on it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				if err := env.Engine.DeleteTask(ctx, ec, args[0]); err != nil {
					return err
				}
				return printDeleted("task", args[0])
			})
		},
	}
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start working on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.StartTask(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task",
		Long:  "Completes the task and unblocks dependents. With task:approve on your own worker record the task goes straight to done; otherwise it waits in review.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				res, err := env.Engine.CompleteTask(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printCompletion(res)
			})
		},
	}
	return cmd
}

func taskApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a task in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				res, err := env.Engine.ApproveTask(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printCompletion(res)
			})
		},
	}
	return cmd
}

func taskReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Send a done task back to backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.ReopenTask(ctx, ec, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Reassign task to another worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.AssignTask(ctx, ec, args[0], workerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "new owner worker id")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move task to another project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				t, err := env.Engine.MoveTask(ctx, ec, args[0], projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "destination project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskReadyCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks ready to start, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				tasks, err := env.Engine.ReadyTasks(ctx, ec, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func taskBlockedCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List blocked tasks with their blockers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				blocked, err := env.Engine.BlockedTasks(ctx, ec, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(blocked)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Pri", "Waiting On"})
				for _, b := range blocked {
					refs := make([]string, 0, len(b.Blockers))
					for _, ref := range b.Blockers {
						refs = append(refs, fmt.Sprintf("%s(%s)", ref.ID, ref.Status))
					}
					tw.AppendRow(table.Row{b.Task.ID, b.Task.Title, b.Task.Priority, strings.Join(refs, " ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: lifecycle changes, assignments, archivals.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				events, err := env.Engine.ListEvents(ctx, ec, storage.EventFilter{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- auth ---

func authCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "auth",
		Short: "API auth helpers",
	}
	a.AddCommand(authTokenCmd())
	return a
}

func authTokenCmd() *cobra.Command {
	var workerID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a worker",
		Long:  "Mints an HS256 JWT carrying the worker's roles and permissions. The server expands roles through its own taskline.yml on every request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required to mint tokens")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				w, err := env.Engine.GetWorker(ctx, ec, workerID)
				if err != nil {
					return err
				}
				token, err := server.MintToken(secret, w.ID, w.Roles, w.Permissions, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "worker_id": w.ID, "ttl": ttl.String()})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id the token acts as")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "taskline.yml holds the workspace id, RBAC roles, operator list, and defaults. Missing config falls back to built-in defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var id string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if id == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					abs = workspace
				}
				id = filepath.Base(abs)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id (defaults to directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env, ec domain.ExecutionContext) error {
				return printJSONOrTable(env.Cfg)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath, logLevel, logEncoding string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required for bearer auth")
			}
			log, err := logging.Build(logLevel, logEncoding)
			if err != nil {
				return err
			}
			defer log.Sync()
			env, err := app.Open(viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer env.Close()
			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				Cfg:      env.Cfg,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Log:      log,
			})
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
			log.Info("serving taskline api", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&logEncoding, "log-encoding", "console", "log encoding (console|json)")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env, domain.ExecutionContext) error) error {
	env, err := app.Open(viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer env.Close()
	ec, err := env.ContextFor(ctx, viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	return fn(ctx, env, ec)
}

func renderTaskTable(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Pri", "Owner", "Project"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.OwnerID, t.ProjectID})
	}
	tw.Render()
}

func printCompletion(res engine.TaskCompletion) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	b, _ := json.MarshalIndent(res.Task, "", "  ")
	fmt.Println(string(b))
	if len(res.Unblocked) > 0 {
		fmt.Println("unblocked:", strings.Join(res.Unblocked, " "))
	}
	if res.Warning != nil {
		fmt.Fprintln(os.Stderr, "warning:", res.Warning.Message, "(retryable)")
	}
	return nil
}

func printDeleted(kind, id string) error {
	if viper.GetBool("json") {
		return printJSON(map[string]string{"deleted": kind, "id": id})
	}
	fmt.Println("deleted", kind, id)
	return nil
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
