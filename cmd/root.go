package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/logging"
	"github.com/joescharf/tracelink/internal/output"
	"github.com/joescharf/tracelink/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore *store.SQLiteStore
	appConfig *config.Config

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tracelink",
	Short: "Keep Jira issues and GitHub pull requests in sync",
	Long: `tracelink enforces issue keys on branches and commits, links pull
requests to the issues they reference and moves those issues through
the workflow as pull requests open, merge and close.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tracelink/config.yaml)")
	rootCmd.PersistentFlags().StringSlice("project-keys", nil, "Issue key prefixes, e.g. SECO,OPS")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	_ = viper.BindPFlag("project_keys", rootCmd.PersistentFlags().Lookup("project-keys"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACELINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every default, including the paths that depend on
// the config directory.
func setDefaults(v *viper.Viper) {
	config.SetDefaults(v)
	if dir, err := configDirFunc(); err == nil {
		v.SetDefault("db_path", filepath.Join(dir, "tracelink.db"))
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Config and store load lazily so `config` and `version` work with an
	// invalid or missing configuration.
}

// getConfig loads and validates the configuration on first use.
func getConfig() (config.Config, error) {
	if appConfig != nil {
		return *appConfig, nil
	}
	c, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	appConfig = &c
	return c, nil
}

// newLogger builds the structured logger for long-running commands.
func newLogger(c config.Config) *logging.Logger {
	level := c.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(os.Stderr, level, c.Log.Format)
}

// getStore returns the shared store, initializing it on first call.
func getStore() (*store.SQLiteStore, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	c, err := getConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func closeStore() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
}
