package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/autokit/check"
	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/rules"
	"github.com/vinayprograms/autokit/tasks"
)

var (
	// enqueue flags
	taskPriority      int
	taskAssignedBy    string
	taskPreconditions []string
	taskValidators    []string

	// complete flags
	completeStatus      string
	completeOutput      string
	completeSummary     string
	completeActions     []string
	completeErrors      []string
	completeExecSeconds float64

	// update-task flags
	updateDescription string
	updatePriority    int
)

func init() {
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(enqueueBatchCmd)
	rootCmd.AddCommand(markInProgressCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(listPendingCmd)
	rootCmd.AddCommand(updateTaskCmd)
	rootCmd.AddCommand(deleteTaskCmd)
	rootCmd.AddCommand(retryFailedCmd)
	rootCmd.AddCommand(recoverOrphansCmd)

	enqueueCmd.Flags().IntVar(&taskPriority, "priority", 0, "task priority, higher runs first")
	enqueueCmd.Flags().StringVar(&taskAssignedBy, "assigned-by", "cli", "who queued the task")
	enqueueCmd.Flags().StringArrayVar(&taskPreconditions, "precondition", nil, "precondition as JSON, repeatable")
	enqueueCmd.Flags().StringArrayVar(&taskValidators, "validator", nil, "validator as JSON, repeatable")

	completeCmd.Flags().StringVar(&completeStatus, "result", "done", "completion status: done or error")
	completeCmd.Flags().StringVar(&completeOutput, "output", "", "worker output as JSON")
	completeCmd.Flags().StringVar(&completeSummary, "summary", "", "one-line output summary")
	completeCmd.Flags().StringArrayVar(&completeActions, "action", nil, "action taken, repeatable")
	completeCmd.Flags().StringArrayVar(&completeErrors, "error", nil, "error message, repeatable")
	completeCmd.Flags().Float64Var(&completeExecSeconds, "execution-seconds", -1, "worker-measured execution time; computed when omitted")

	updateTaskCmd.Flags().StringVar(&updateDescription, "description", "", "new description")
	updateTaskCmd.Flags().IntVar(&updatePriority, "priority", -1, "new priority")
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <description>",
	Short: "Queue a task",
	Long: `Queue a task. The task id is derived from the description, so an
equivalent phrasing of an active or recently completed task is reported
as a duplicate instead of queued twice.

Examples:
  autokit enqueue "send weekly report" --priority 5
  autokit enqueue "process export" --precondition '{"type":"file_not_empty","path":"data/export.csv"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	req := tasks.EnqueueRequest{
		Description: args[0],
		Priority:    taskPriority,
		AssignedBy:  taskAssignedBy,
	}
	for _, raw := range taskPreconditions {
		var p check.Precondition
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fail(errors.InvalidInput("bad precondition JSON", errors.WithCause(err)))
		}
		req.Preconditions = append(req.Preconditions, p)
	}
	for _, raw := range taskValidators {
		var v check.Validator
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fail(errors.InvalidInput("bad validator JSON", errors.WithCause(err)))
		}
		req.Validators = append(req.Validators, v)
	}

	res, err := a.coord.Enqueue(cmd.Context(), req)
	if err != nil {
		return fail(err)
	}
	return emitOK(map[string]interface{}{
		"task_id":   res.TaskID,
		"duplicate": res.Duplicate,
	})
}

var enqueueBatchCmd = &cobra.Command{
	Use:   "enqueue-batch <descriptions-json>",
	Short: "Queue several tasks under one batch id",
	Long: `Queue several tasks under a shared batch id. The argument is a JSON
array of descriptions; each completed result records its batch position.

Examples:
  autokit enqueue-batch '["collect metrics", "render dashboard", "send summary"]'`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueueBatch,
}

func runEnqueueBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	var descriptions []string
	if err := json.Unmarshal([]byte(args[0]), &descriptions); err != nil {
		return fail(errors.InvalidInput("argument must be a JSON array of descriptions", errors.WithCause(err)))
	}
	reqs := make([]tasks.EnqueueRequest, 0, len(descriptions))
	for _, d := range descriptions {
		reqs = append(reqs, tasks.EnqueueRequest{Description: d, AssignedBy: taskAssignedBy})
	}

	batch, err := a.coord.EnqueueBatch(cmd.Context(), reqs)
	if err != nil {
		return fail(err)
	}
	return emitOK(map[string]interface{}{
		"batch_id":   batch.BatchID,
		"task_ids":   batch.TaskIDs,
		"duplicates": batch.Duplicates,
	})
}

var markInProgressCmd = &cobra.Command{
	Use:   "mark-in-progress <task-id>",
	Short: "Claim a queued task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.coord.MarkInProgress(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Report a task finished",
	Long: `Report an in_progress task finished. On --result done every validator
bound to the task must pass or the task stays in_progress. The finished
task moves to the results ledger and becomes searchable.

Examples:
  autokit complete send_weekly_report_a1b2c3d4e5f6 --output '{"report_path":"/tmp/r.md"}' --summary "report sent"
  autokit complete clean_downloads_f6e5d4c3b2a1 --result error --error "permission denied"`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	req := tasks.CompleteRequest{
		Status:  tasks.Status(completeStatus),
		Summary: completeSummary,
		Actions: completeActions,
		Errors:  completeErrors,
	}
	if completeOutput != "" {
		if !json.Valid([]byte(completeOutput)) {
			return fail(errors.InvalidInput("--output must be valid JSON"))
		}
		req.Output = json.RawMessage(completeOutput)
	}
	if completeExecSeconds >= 0 {
		req.ExecutionTimeSeconds = &completeExecSeconds
	}

	rec, err := a.coord.Complete(cmd.Context(), args[0], req)
	if err != nil {
		return fail(err)
	}
	indexResult(a, args[0], rec)
	return emitOK(map[string]interface{}{
		"task_id":                args[0],
		"result":                 rec.Status,
		"execution_time_seconds": rec.ExecutionTimeSeconds,
	})
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.coord.Cancel(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Return an in_progress or blocked task to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.coord.Reset(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <task-id> <reason>",
	Short: "Park a queued task with a reason",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.coord.Block(cmd.Context(), args[0], args[1]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var listPendingCmd = &cobra.Command{
	Use:   "list-pending",
	Short: "List eligible queued tasks, highest priority first",
	Long: `List queued tasks eligible for work. Tasks whose preconditions fail
are blocked with a reason and excluded from the listing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		pending, err := a.coord.ListPending(cmd.Context())
		if err != nil {
			return fail(err)
		}
		out := make([]map[string]interface{}, 0, len(pending))
		for _, p := range pending {
			out = append(out, map[string]interface{}{
				"task_id":     p.ID,
				"description": p.Task.Description,
				"priority":    p.Task.Priority,
				"created_at":  p.Task.CreatedAt,
			})
		}
		return emitOK(map[string]interface{}{"tasks": out, "count": len(out)})
	},
}

var updateTaskCmd = &cobra.Command{
	Use:   "update-task <task-id>",
	Short: "Edit a queued task's description or priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		req := tasks.UpdateRequest{}
		if updateDescription != "" {
			req.Description = &updateDescription
		}
		if updatePriority >= 0 {
			req.Priority = &updatePriority
		}
		if err := a.coord.Update(cmd.Context(), args[0], req); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var deleteTaskCmd = &cobra.Command{
	Use:   "delete-task <task-id>",
	Short: "Remove a task regardless of status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if err := a.coord.Delete(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"task_id": args[0]})
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed <task-id>",
	Short: "Re-queue an errored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		res, err := a.coord.RetryFailed(cmd.Context(), args[0])
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{
			"task_id":   res.TaskID,
			"duplicate": res.Duplicate,
		})
	},
}

var recoverOrphansCmd = &cobra.Command{
	Use:   "recover-orphans",
	Short: "Reset stale in_progress tasks with dead holders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		reset, err := a.coord.RecoverOrphans(cmd.Context())
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"reset": reset, "count": len(reset)})
	},
}

// queueTool exposes the coordinator to rule actions as the "queue" tool.
func queueTool(coord *tasks.Coordinator) rules.Handler {
	return func(ctx context.Context, cmd rules.Command) (map[string]interface{}, error) {
		switch cmd.Action {
		case "enqueue":
			desc, _ := cmd.Params["description"].(string)
			priority, _ := cmd.Params["priority"].(float64)
			res, err := coord.Enqueue(ctx, tasks.EnqueueRequest{
				Description: desc,
				Priority:    int(priority),
				AssignedBy:  "rule",
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": res.TaskID, "duplicate": res.Duplicate}, nil

		case "cancel":
			id, _ := cmd.Params["task_id"].(string)
			if err := coord.Cancel(ctx, id); err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": id}, nil

		case "block":
			id, _ := cmd.Params["task_id"].(string)
			reason, _ := cmd.Params["reason"].(string)
			if err := coord.Block(ctx, id, reason); err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": id}, nil

		case "retry_failed":
			id, _ := cmd.Params["task_id"].(string)
			res, err := coord.RetryFailed(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": res.TaskID, "duplicate": res.Duplicate}, nil

		default:
			return nil, errors.InvalidInput(fmt.Sprintf("queue tool has no action %q", cmd.Action))
		}
	}
}
