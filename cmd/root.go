package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "face-search",
	Short: "Find the photos of a person in a local photo gallery",
	Long: `Face Search compares the face in a query photo against every photo in a
gallery directory and reports strong and doubtful matches, one per person.

Face embeddings come from an external embedding server and are cached
on disk (SQLite) or in PostgreSQL, so repeated searches only process new
or modified photos.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg := config.Load()
	level := cfg.Log.Level
	if flagLevel, _ := rootCmd.PersistentFlags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	logging.Init(level, cfg.Log.Format)
}
