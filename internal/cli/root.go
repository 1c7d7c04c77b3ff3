// Package cli wires the drivelog commands together.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/planbiir/drivelog/internal/config"
	"github.com/planbiir/drivelog/internal/device"
	"github.com/planbiir/drivelog/internal/log"
	"github.com/planbiir/drivelog/internal/store"
)

const envPrefix = "DRIVELOG"

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree with fresh flag state.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "drivelog",
		Short:        "Import GPS driving tracks into a canonical store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(cmd, cfgFile); err != nil {
				return err
			}
			return log.Init(config.LogLevel, config.LogFilter, config.LogDev)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.drivelog.yml)")
	rootCmd.PersistentFlags().StringVar(&config.EnvFile, "env-file", ".env",
		"dotenv file read before resolving settings, ignored when missing")
	rootCmd.PersistentFlags().StringVar(&config.StorePath, "store", "drivelog.db",
		"canonical store file")
	rootCmd.PersistentFlags().StringVar(&config.PipelinesPath, "pipelines", "",
		"device pipeline file (default: built-in profiles)")
	rootCmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", "info",
		"controls the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&config.LogFilter, "log-filter", "",
		"zapfilter rules by logger name, e.g. \"debug:importer.pipeline* info+:*\"")
	rootCmd.PersistentFlags().BoolVar(&config.LogDev, "log-dev", false,
		"human readable log output")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newTimestampsCmd())
	rootCmd.AddCommand(newPipelinesCmd())
	return rootCmd
}

// initConfig reads the dotenv file, the config file and DRIVELOG_* variables
// into every flag the command line left unset.
func initConfig(cmd *cobra.Command, cfgFile string) error {
	if config.EnvFile != "" {
		if err := godotenv.Load(config.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", config.EnvFile, err)
		}
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".drivelog")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return bindFlags(cmd, v)
}

// bindFlags applies config file and environment values to flags the user
// did not set.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them
		if strings.Contains(f.Name, "-") {
			envVar := fmt.Sprintf("%s_%s", envPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")))
			if err := v.BindEnv(f.Name, envVar); err != nil {
				errs = append(errs, fmt.Errorf("could not bind env var %s: %w", envVar, err))
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("could not set flag %s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

// loadPipelines returns the device profiles, failing before any track is read.
func loadPipelines() (*device.Config, error) {
	if config.PipelinesPath == "" {
		return device.Default(), nil
	}
	return device.Load(config.PipelinesPath)
}

// openStore opens the canonical store, creating or upgrading its schema.
func openStore(ctx context.Context) (*store.DB, *store.Repository, error) {
	db, err := store.Open(config.StorePath, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store.NewRepository(db), nil
}
