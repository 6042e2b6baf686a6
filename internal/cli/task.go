// task.go implements the "agentk task" command group over the task store.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect and cancel tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <prompt>",
	Short: "Create a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered by status",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a task and its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks whose dependencies are all completed",
	Args:  cobra.NoArgs,
	RunE:  runTaskReady,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or in-progress task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskWaitCmd = &cobra.Command{
	Use:   "wait <id>",
	Short: "Block until a task is completed, failed or cancelled",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskWait,
}

var (
	taskIDFlag       string
	taskAgentFlag    string
	taskTypeFlag     string
	taskPriorityFlag int
	taskDependsFlag  []string
	taskFilesFlag    []string
	taskStatusFlag   []string
	taskReasonFlag   string
	taskTimeoutFlag  time.Duration
	jsonFlag         bool
)

func init() {
	taskCreateCmd.Flags().StringVar(&taskIDFlag, "id", "", "Task id (default: generated)")
	taskCreateCmd.Flags().StringVarP(&taskAgentFlag, "agent", "a", "", "Assigned agent role")
	taskCreateCmd.Flags().StringVarP(&taskTypeFlag, "type", "t", string(task.TypeImplement), "Task type: implement, test, review, research or evaluate")
	taskCreateCmd.Flags().IntVarP(&taskPriorityFlag, "priority", "p", 1, "Priority (lower runs first)")
	taskCreateCmd.Flags().StringSliceVarP(&taskDependsFlag, "depends", "d", nil, "Ids of tasks that must complete first")
	taskCreateCmd.Flags().StringSliceVarP(&taskFilesFlag, "files", "f", nil, "Files the agent should look at")
	_ = taskCreateCmd.MarkFlagRequired("agent")

	taskListCmd.Flags().StringSliceVarP(&taskStatusFlag, "status", "s", nil, "Only list tasks with these statuses")
	taskCancelCmd.Flags().StringVar(&taskReasonFlag, "reason", "cancelled by user", "Reason recorded on the task")
	taskWaitCmd.Flags().DurationVar(&taskTimeoutFlag, "timeout", 0, "Give up after this long (0 = no limit)")

	taskCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of text")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskGetCmd, taskReadyCmd, taskCancelCmd, taskDeleteCmd, taskWaitCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	t, err := ws.store.Create(task.NewTask{
		ID:           taskIDFlag,
		Type:         task.Type(taskTypeFlag),
		AssignedTo:   taskAgentFlag,
		Prompt:       args[0],
		Priority:     taskPriorityFlag,
		Dependencies: taskDependsFlag,
		Files:        taskFilesFlag,
	})
	if err != nil {
		return err
	}
	ws.logger.Warn(log.LogEvent{Event: log.EventTaskCreated, TaskID: t.ID, Agent: t.AssignedTo})
	if jsonFlag {
		return printJSON(t)
	}
	fmt.Println(t.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	var filters []task.Status
	for _, raw := range taskStatusFlag {
		st := task.Status(strings.TrimSpace(raw))
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", raw)
		}
		filters = append(filters, st)
	}
	tasks, err := ws.store.List(filters...)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	printTasks(tasks)
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	t, err := ws.store.Get(args[0])
	if err != nil {
		return err
	}
	res, err := ws.store.GetResult(t.ID)
	if err != nil && !errors.Is(err, task.ErrNotFound) {
		return err
	}

	if jsonFlag {
		return printJSON(struct {
			Task   *task.Task   `json:"task"`
			Result *task.Result `json:"result"`
		}{t, res})
	}

	fmt.Printf("%s %s\n", tui.Icon(string(t.Status), tui.IsTTY()), t.ID)
	fmt.Printf("  Type:     %s\n", t.Type)
	fmt.Printf("  Agent:    %s\n", t.AssignedTo)
	fmt.Printf("  Status:   %s\n", t.Status)
	fmt.Printf("  Priority: %d\n", t.Priority)
	if len(t.Context.Dependencies) > 0 {
		fmt.Printf("  Depends:  %s\n", strings.Join(t.Context.Dependencies, ", "))
	}
	if len(t.Context.Files) > 0 {
		fmt.Printf("  Files:    %s\n", strings.Join(t.Context.Files, ", "))
	}
	if t.Error != nil {
		fmt.Printf("  Error:    %s\n", *t.Error)
	}
	fmt.Printf("\n%s\n", t.Prompt)
	if res != nil {
		fmt.Printf("\nResult (%s, %s):\n%s\n", res.Agent, res.Status, res.Output)
		for _, step := range res.NextSteps {
			fmt.Printf("  next: %s\n", step)
		}
	}
	return nil
}

func runTaskReady(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	r, err := ws.resolver()
	if err != nil {
		return err
	}
	ready, err := r.Ready()
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(ready)
	}
	if len(ready) == 0 {
		fmt.Println("No ready tasks.")
	} else {
		printTasks(ready)
	}

	blocked, err := r.Blocked()
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		fmt.Println("\nBlocked:")
		for _, b := range blocked {
			fmt.Printf("  %s waits on %s (%s)\n", b.Task.ID, b.Dependency, b.Reason)
		}
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	if err := ws.store.Cancel(args[0], taskReasonFlag); err != nil {
		return err
	}
	ws.logger.Warn(log.LogEvent{Event: log.EventTaskStatus, TaskID: args[0], Status: string(task.StatusCancelled)})
	fmt.Printf("Cancelled %s\n", args[0])
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	if err := ws.store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runTaskWait(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if taskTimeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, taskTimeoutFlag)
		defer cancel()
	}
	t, err := ws.store.Wait(ctx, args[0], ws.cfg.Execution.PollInterval())
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(t)
	}
	if t.Status != task.StatusCompleted {
		return fmt.Errorf("task %s %s", t.ID, t.Status)
	}
	fmt.Printf("%s %s\n", t.ID, t.Status)
	return nil
}

func printTasks(tasks []*task.Task) {
	color := tui.IsTTY()
	idWidth, agentWidth := 0, 0
	for _, t := range tasks {
		idWidth = max(idWidth, len(t.ID))
		agentWidth = max(agentWidth, len(t.AssignedTo))
	}
	for _, t := range tasks {
		fmt.Printf("  %s %-*s  %-*s  %-11s  p%d  %s\n",
			tui.Icon(string(t.Status), color),
			idWidth, t.ID,
			agentWidth, t.AssignedTo,
			t.Status, t.Priority, firstLine(t.Prompt, 60))
	}
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
