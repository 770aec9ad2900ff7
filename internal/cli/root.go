// Package cli provides the command-line interface for botctl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/raphaelgruber/botctl/internal/config"
	"github.com/raphaelgruber/botctl/internal/metrics"
	"github.com/raphaelgruber/botctl/internal/state"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	apiURL     string
	configPath string

	// Initialised by the root pre-run
	cfg       *config.Config
	logger    *slog.Logger
	closeLog  func() error
	store     *state.Store
	api       *client.Client
	collector *metrics.Collector
)

// annotationInteractive marks commands that draw a full-screen view.
// They log to the file only.
const annotationInteractive = "interactive"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "Management console for the chatbot platform",
	Long: `botctl manages bots on the chatbot platform: training data, training
jobs with live progress, and interactive chat sessions.

The API endpoint defaults to http://localhost:8000 and can be set with
--api-url, BOTCTL_API_URL or api_url in the config file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiURL != "" {
			cfg.APIURL = apiURL
		}
		if verbose && cfg.LogLevel > slog.LevelDebug {
			cfg.LogLevel = slog.LevelDebug
		}

		if cmd.Annotations[annotationInteractive] == "true" {
			logger, closeLog = config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
		} else {
			logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		}
		slog.SetDefault(logger)

		store, err = state.Open(cfg.StateFile)
		if err != nil {
			return err
		}

		collector = metrics.NewCollector()
		token := store.Get().Token
		api = client.New(cfg.APIURL,
			client.WithTimeout(cfg.Timeout),
			client.WithToken(token),
			client.WithCollector(collector),
			client.WithLogger(logger),
		)
		warnExpiredToken(token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose && collector != nil {
			printStats(os.Stderr, collector.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and request statistics")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "platform API base URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <user config dir>/botctl/config.yaml)")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(botsCmd)
	rootCmd.AddCommand(dataCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(conversationCmd)
}

// warnExpiredToken prints a hint when the stored token has expired.
func warnExpiredToken(token string) {
	if token == "" {
		return
	}
	exp, err := client.TokenExpiry(token)
	if err != nil {
		logger.Debug("inspect token", "error", err)
		return
	}
	if time.Now().After(exp) {
		fmt.Fprintf(os.Stderr, "Warning: session expired at %s, run 'botctl auth login'\n", exp.Format(time.RFC3339))
	}
}

// parseID parses a positive integer identifier argument.
func parseID(kind, arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, arg)
	}
	return id, nil
}

// botArg resolves the bot id from args[0], falling back to the last selected bot.
func botArg(args []string) (int, error) {
	if len(args) > 0 {
		return parseID("bot", args[0])
	}
	if id := store.Get().LastBotID; id > 0 {
		return id, nil
	}
	return 0, fmt.Errorf("no bot given and no bot selected before")
}

// requestContext bounds one-shot commands.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.Timeout)
}
