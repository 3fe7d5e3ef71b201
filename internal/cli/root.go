package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/atomsched/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default daemon URL, checking ATOMSCHED_SERVER first.
func defaultServer() string {
	if s := os.Getenv("ATOMSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the atomsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atomsched",
		Short: "atomsched — GPU job-slot scheduler simulator",
		Long:  "atomsched submits atoms to, inspects, and replays workloads against the scheduler simulator daemon.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Daemon URL (or ATOMSCHED_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newConnectCmd(),
		newConnectionsCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newSemaphoreCmd(),
		newTraceCmd(),
		newReplayCmd(),
		newGenerateCmd(),
	)

	return root
}
