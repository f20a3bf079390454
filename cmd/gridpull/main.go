package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridpull/gridpull/pkg/client"
	"github.com/gridpull/gridpull/pkg/config"
	"github.com/gridpull/gridpull/pkg/dispatcher"
	"github.com/gridpull/gridpull/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridpull",
	Short: "GridPull - Distributed download orchestration",
	Long: `GridPull coordinates a fleet of download workers from a single
dispatcher. Jobs are submitted over a REST API, assigned to workers
over persistent websocket channels, and retried automatically when
workers fail or go offline.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"GridPull version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "Dispatcher API address")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the dispatcher")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
}

// apiClient builds a REST client from the persistent flags
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("GRIDPULL_API_KEY")
	}
	return client.New(server, apiKey)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher",
	Long: `Run the dispatcher: the REST API, the worker websocket endpoint,
the scheduler, the liveness monitor and the retry controller, all in
one process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.PathFromEnv()
		}
		debug, _ := cmd.Flags().GetBool("debug")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		level := log.InfoLevel
		if debug {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, JSONOutput: jsonLogs})

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		d, err := dispatcher.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to start dispatcher: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to config file (default: CONFIG_PATH or config/dispatcher.json)")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")
	serveCmd.Flags().Bool("json-logs", false, "Emit logs as JSON instead of console format")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cluster status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient(cmd).Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Active workers:    %d\n", status.ActiveWorkers)
		fmt.Printf("Connected workers: %d\n", status.ConnectedWorkers)
		fmt.Printf("Total tasks:       %d\n", status.TotalTasks)
		fmt.Printf("System load:       %.1f%%\n", status.SystemLoad)
		if len(status.TasksByStatus) > 0 {
			fmt.Println("Tasks by status:")
			for st, n := range status.TasksByStatus {
				fmt.Printf("  %-12s %d\n", st, n)
			}
		}
		if len(status.WorkersByStatus) > 0 {
			fmt.Println("Workers by status:")
			for st, n := range status.WorkersByStatus {
				fmt.Printf("  %-12s %d\n", st, n)
			}
		}
		return nil
	},
}
