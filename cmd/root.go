package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"chatsave/internal/config"
	"chatsave/internal/observability"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatsave",
	Short: "Local chat sessions with a simulated bot",
	Long: `chatsave keeps chat sessions and their messages in a local SQLite
database. Sessions are listed by day; on first use they are seeded from a
bundled dataset. Every message you send gets a bot reply a moment later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		log, err = observability.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/chatsave/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
