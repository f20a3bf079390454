package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridpull/gridpull/pkg/types"
)

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage download tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Submit a download task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")
		optionsJSON, _ := cmd.Flags().GetString("options")

		var options map[string]any
		if optionsJSON != "" {
			if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
				return fmt.Errorf("invalid --options JSON: %v", err)
			}
		}

		task, err := apiClient(cmd).CreateTask(cmd.Context(), args[0], options, priority)
		if err != nil {
			return err
		}

		fmt.Printf("Task %s created (%s)\n", task.ID, task.Status)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		tasks, err := apiClient(cmd).ListTasks(cmd.Context(), status)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-42s %-12s %-10s %8s  %s\n", "ID", "STATUS", "PRIORITY", "PROGRESS", "WORKER")
		for _, t := range tasks {
			fmt.Printf("%-42s %-12s %-10s %7.1f%%  %s\n",
				t.ID, t.Status, t.Priority, t.Progress, t.WorkerID)
		}
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get TASK_ID",
	Short: "Show one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient(cmd).GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:   "rm TASK_ID",
	Short: "Remove a task, canceling it on its worker if active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s removed\n", args[0])
		return nil
	},
}

var taskRequeueCmd = &cobra.Command{
	Use:   "requeue TASK_ID",
	Short: "Return a task to the pending queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient(cmd).RequeueTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s is %s\n", task.ID, task.Status)
		return nil
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause TASK_ID",
	Short: "Pause a running download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).PauseTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Pause requested for task %s\n", args[0])
		return nil
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume TASK_ID",
	Short: "Resume a paused download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).ResumeTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Resume requested for task %s\n", args[0])
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskRemoveCmd)
	taskCmd.AddCommand(taskRequeueCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskResumeCmd)

	taskAddCmd.Flags().String("priority", types.PriorityNormal.String(), "Task priority (low, normal, high, urgent)")
	taskAddCmd.Flags().String("options", "", "Download options as a JSON object")
	taskListCmd.Flags().String("status", "", "Filter by status")
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
