// Package cmd holds the voicerelay cobra commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFile    string

	rootCmd = &cobra.Command{
		Use:           "voicerelay",
		Short:         "Real-time chat and voice signaling relay",
		Long:          "voicerelay relays chat lines, voice room events and WebRTC signaling between WebSocket clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	_ = logging.InitLog("info", logging.LogConsole)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", config.DefaultLogFile, "log file, or console for stderr")

	rootCmd.AddCommand(runCmd, clientCmd)

	setFlagsFromEnvVars(rootCmd.PersistentFlags())
	setFlagsFromEnvVars(runCmd.Flags())
	setFlagsFromEnvVars(clientCmd.Flags())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
