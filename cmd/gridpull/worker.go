package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Worker commands
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		workers, err := apiClient(cmd).ListWorkers(cmd.Context(), status)
		if err != nil {
			return err
		}
		if len(workers) == 0 {
			fmt.Println("No workers found")
			return nil
		}

		fmt.Printf("%-44s %-20s %-10s %6s\n", "ID", "HOSTNAME", "STATUS", "SLOTS")
		for _, w := range workers {
			fmt.Printf("%-44s %-20s %-10s %3d/%d\n",
				w.ID, w.Hostname, w.Status, w.UsedSlots, w.TotalSlots)
		}
		return nil
	},
}

var workerGetCmd = &cobra.Command{
	Use:   "get WORKER_ID",
	Short: "Show one worker as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := apiClient(cmd).GetWorker(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(worker)
	},
}

var workerRemoveCmd = &cobra.Command{
	Use:   "rm WORKER_ID",
	Short: "Remove a worker and requeue its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteWorker(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Worker %s removed\n", args[0])
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerGetCmd)
	workerCmd.AddCommand(workerRemoveCmd)

	workerListCmd.Flags().String("status", "", "Filter by status")
}
