package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cuemby/fleetctl/pkg/api"
	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/client"
	"github.com/cuemby/fleetctl/pkg/daemon"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig   string
	flagAPIAddr  string
	flagLogLevel string
	flagLogJSON  bool
)

var errInterrupted = errors.New("interrupted")

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the CLI exit-code contract: 0 success,
// 1 general, 2 not-found, 3 bad configuration, 130 interrupted.
func exitCode(err error) int {
	if errors.Is(err, errInterrupted) {
		return 130
	}
	switch apierr.KindOf(err) {
	case apierr.NotFound:
		return 2
	case apierr.Config:
		return 3
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - task dispatch and process supervision for AI worker fleets",
	Long: `fleetctl coordinates a small fleet of long-running AI worker
processes across machines: it queues and routes prompts to idle
terminal sessions, keeps declared services alive with health checks
and backoff restarts, and manages cluster roles with heartbeat-driven
failover.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "/etc/fleetctl/fleetctl.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagAPIAddr, "api", "127.0.0.1:8700", "Address of the daemon's control surface")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(configCmd)

	promptCmd.AddCommand(promptSubmitCmd)
	promptCmd.AddCommand(promptListCmd)
	promptCmd.AddCommand(promptShowCmd)
	promptCmd.AddCommand(promptRetryCmd)
	promptCmd.AddCommand(promptRetryAllCmd)
	promptCmd.AddCommand(promptReassignCmd)

	sessionCmd.AddCommand(sessionListCmd)

	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceRestartCmd)
	serviceCmd.AddCommand(serviceStatusCmd)

	clusterCmd.AddCommand(clusterStatusCmd)

	configCmd.AddCommand(configReloadCmd)

	promptSubmitCmd.Flags().Int("priority", 0, "Scheduling priority (higher first)")
	promptSubmitCmd.Flags().String("source", "cli", "Source tag recorded on the prompt")
	promptSubmitCmd.Flags().String("target-session", "", "Pin the prompt to one session")
	promptSubmitCmd.Flags().String("provider", "", "Preferred provider (claude, codex, ollama, comet)")
	promptSubmitCmd.Flags().StringSlice("fallback", nil, "Fallback providers, tried in order")
	promptSubmitCmd.Flags().Int("max-retries", 0, "Maximum retry attempts")
	promptSubmitCmd.Flags().Int("timeout", 0, "Completion timeout in seconds")

	promptListCmd.Flags().String("status", "", "Filter by status (pending, assigned, in_progress, completed, failed, cancelled)")
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(flagLogLevel),
		JSONOutput: flagLogJSON,
	})
}

func apiClient() *client.Client {
	return client.New(flagAPIAddr)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleetctl daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(flagConfig)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Run(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return errInterrupted
		}
		return nil
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Submit and manage prompts",
}

var promptSubmitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit a new prompt to the assigner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		priority, _ := cmd.Flags().GetInt("priority")
		source, _ := cmd.Flags().GetString("source")
		targetSession, _ := cmd.Flags().GetString("target-session")
		provider, _ := cmd.Flags().GetString("provider")
		fallbacks, _ := cmd.Flags().GetStringSlice("fallback")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		timeout, _ := cmd.Flags().GetInt("timeout")

		prompt, err := apiClient().SubmitPrompt(ctx, api.SubmitPromptRequest{
			Content:           args[0],
			Source:            source,
			Priority:          priority,
			TargetSession:     targetSession,
			TargetProvider:    provider,
			FallbackProviders: fallbacks,
			MaxRetries:        maxRetries,
			TimeoutSeconds:    timeout,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Prompt %d submitted (priority %d)\n", prompt.ID, prompt.Priority)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		status, _ := cmd.Flags().GetString("status")
		prompts, err := apiClient().ListPrompts(ctx, status)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSESSION\tRETRIES\tCREATED")
		for _, p := range prompts {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d/%d\t%s\n",
				p.ID, p.Status, p.Priority, p.AssignedSession,
				p.RetryCount, p.MaxRetries, p.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var promptShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one prompt, including its response or error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return apierr.New(apierr.Config, "prompt id must be an integer")
		}
		ctx, cancel := cmdContext()
		defer cancel()

		p, err := apiClient().GetPrompt(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Prompt %d [%s] priority=%d retries=%d/%d\n", p.ID, p.Status, p.Priority, p.RetryCount, p.MaxRetries)
		fmt.Printf("  content: %s\n", p.Content)
		if p.AssignedSession != "" {
			fmt.Printf("  session: %s\n", p.AssignedSession)
		}
		if p.Response != "" {
			fmt.Printf("  response: %s\n", p.Response)
		}
		if p.Error != "" {
			fmt.Printf("  error: %s\n", p.Error)
		}
		return nil
	},
}

var promptRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return apierr.New(apierr.Config, "prompt id must be an integer")
		}
		ctx, cancel := cmdContext()
		defer cancel()

		retried, err := apiClient().RetryPrompt(ctx, id)
		if err != nil {
			return err
		}
		if !retried {
			fmt.Printf("Prompt %d is not eligible for retry\n", id)
			return nil
		}
		fmt.Printf("Prompt %d queued for retry\n", id)
		return nil
	},
}

var promptRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Retry every eligible failed prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		n, err := apiClient().RetryAllFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Retried %d prompt(s)\n", n)
		return nil
	},
}

var promptReassignCmd = &cobra.Command{
	Use:   "reassign <id> <session>",
	Short: "Requeue a prompt with a new target session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return apierr.New(apierr.Config, "prompt id must be an integer")
		}
		ctx, cancel := cmdContext()
		defer cancel()

		if err := apiClient().ReassignPrompt(ctx, id, args[1]); err != nil {
			return err
		}
		fmt.Printf("Prompt %d reassigned to %s\n", id, args[1])
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect registered worker sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		sessions, err := apiClient().ListSessions(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tPROVIDER\tTASK\tLAST ACTIVITY")
		for _, s := range sessions {
			task := "-"
			if s.CurrentTaskID != 0 {
				task = strconv.FormatInt(s.CurrentTaskID, 10)
			}
			name := s.Name
			if s.Excluded {
				name += " (excluded)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				name, s.Status, s.Provider, task, s.LastActivity.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Control supervised services",
}

var serviceStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a declared service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().StartService(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Service %s starting\n", args[0])
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Gracefully stop a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().StopService(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Service %s stopped\n", args[0])
		return nil
	},
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart <id>",
	Short: "Reset attempt counters and restart a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().RestartService(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Service %s restarting\n", args[0])
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every declared service's runtime state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		services, err := apiClient().SupervisorStatus(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tPID\tATTEMPTS\tCPU%\tRSS(MB)\tLAST ERROR")
		for _, svc := range services {
			cpu, rss := "-", "-"
			if svc.LastMetrics != nil {
				cpu = fmt.Sprintf("%.1f", svc.LastMetrics.CPUPercent)
				rss = strconv.FormatInt(svc.LastMetrics.RSSMb, 10)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\t%s\n",
				svc.ID, svc.Lifecycle, svc.PID,
				svc.RestartAttempts, svc.RestartPolicy.MaxRetries,
				cpu, rss, svc.LastError)
		}
		return w.Flush()
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect cluster state",
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local node's cluster view",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		status, err := apiClient().ClusterStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Node %s (%s)\n\n", status.NodeID, status.Role)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tROLE\tADDRESS\tHEALTHY\tCPU%\tMEM%\tLAST HEARTBEAT")
		for _, n := range status.Nodes {
			beat := "-"
			if !n.LastHeartbeat.IsZero() {
				beat = n.LastHeartbeat.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%.1f\t%.1f\t%s\n",
				n.ID, n.Role, n.Address, n.Healthy, n.CPUPercent, n.MemoryPercent, beat)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(status.Allocations) > 0 {
			fmt.Printf("\nActive allocations: %d\n", len(status.Allocations))
			for _, a := range status.Allocations {
				fmt.Printf("  %s -> %s (%s, requested by %s)\n", a.ResourceType, a.NodeID, a.ID, a.Requester)
			}
		}
		if len(status.Failovers) > 0 {
			fmt.Println("\nFailover history:")
			for _, f := range status.Failovers {
				fmt.Printf("  %s: %s -> %s (%s)\n", f.Timestamp.Format(time.RFC3339), f.FromNode, f.ToNode, f.Reason)
			}
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage daemon configuration",
}

var configReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to re-read its configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().ReloadConfig(ctx); err != nil {
			return err
		}
		fmt.Println("Configuration reloaded")
		return nil
	},
}
