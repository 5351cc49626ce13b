package cmd

import (
	"fmt"
	"os"

	"github.com/goliatone/go-access"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
	verbose    bool

	logger *glog.BaseLogger
)

var rootCmd = &cobra.Command{
	Use:   "nouriva",
	Short: "Nouriva recipe app server",
	Long:  `Serves the Nouriva app, manages its database schema and edits user profiles.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := glog.Info
		if verbose {
			level = glog.Trace
		}
		logger = glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(level),
			glog.WithName("nouriva"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "dotenv files applied before NOURIVA_ overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "trace level logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(seedCmd)
}

func loadOptions() (*access.Options, error) {
	return access.LoadOptions(configPath, envFiles...)
}

func loggers() access.LoggerProvider {
	return access.GlogProvider(logger)
}
