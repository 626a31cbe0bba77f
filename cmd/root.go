package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stagegate/sgpm/internal/auth"
	"github.com/stagegate/sgpm/internal/criteria"
	"github.com/stagegate/sgpm/internal/notify"
	"github.com/stagegate/sgpm/internal/output"
	"github.com/stagegate/sgpm/internal/review"
	"github.com/stagegate/sgpm/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "sgpm",
	Short: "Stage-gate project manager - run weighted gate reviews",
	Long: `sgpm manages research projects through stage-gate reviews.
It tracks projects, reviewer assignments, and weighted evaluations,
aggregates review sessions, and applies gate decisions to move
projects between stages.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/sgpm/config.yaml)")
	rootCmd.PersistentFlags().String("actor", "", "Acting user ID or email (overrides SGPM_ACTOR)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "sgpm")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SGPM")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "sgpm")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "sgpm.db"))
	viper.SetDefault("criteria_file", "")
	viper.SetDefault("actor", "")
	viper.SetDefault("serve.port", 8799)

	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and review service are initialized lazily so config/version
	// commands can run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getCatalog loads the criteria catalog from criteria_file, falling back to
// the built-in catalog.
func getCatalog() (*criteria.Catalog, error) {
	if path := viper.GetString("criteria_file"); path != "" {
		catalog, err := criteria.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load criteria: %w", err)
		}
		return catalog, nil
	}
	return criteria.Default(), nil
}

// getReviewService wires the review workflow over the shared store.
func getReviewService() (*review.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	catalog, err := getCatalog()
	if err != nil {
		return nil, err
	}
	return review.NewService(s, auth.NewService(s), catalog, notify.NewStoreNotifier(s)), nil
}
