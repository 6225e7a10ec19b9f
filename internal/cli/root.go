package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/relab/vetomint/internal/profiling"
	"github.com/relab/vetomint/logging"
)

// rootCmd represents the base command when called without any subcommands
var (
	cfgFile     string
	stopProfile func() error

	rootCmd = &cobra.Command{
		Use:   "vetomint",
		Short: "A command-line utility for simulating and replaying single-height consensus.",
		Long: `vetomint is a command-line utility for testing the vetomint consensus.
It can generate and execute twins scenarios, in which some validators are run by two
nodes that equivocate, and replay event logs recorded by a replica.

To execute twins scenarios, use the 'vetomint twins run' command.
use 'vetomint help twins' to view all possible parameters for this command.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) (err error) {
			var opts profiling.Options
			if err := viper.Unmarshal(&opts); err != nil {
				return err
			}
			stopProfile, err = profiling.Start(opts)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if stopProfile == nil {
				return nil
			}
			return stopProfile()
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if stopProfile != nil {
			err = multierr.Append(err, stopProfile())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vetomint.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "sets the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSlice("log-pkgs", []string{}, "set the log level on a per-package basis.")
	rootCmd.PersistentFlags().String("cpu-profile", "", "file to write a CPU profile to")
	rootCmd.PersistentFlags().String("mem-profile", "", "file to write a heap profile to")
	rootCmd.PersistentFlags().String("trace", "", "file to write an execution trace to")
	rootCmd.PersistentFlags().String("fgprof-profile", "", "file to write a wall-clock profile to")
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".vetomint" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".vetomint")
	}

	viper.SetEnvPrefix("vetomint")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	cobra.CheckErr(setLogLevels(viper.GetString("log-level"), viper.GetStringSlice("log-pkgs")))
}

// setLogLevels sets the global log level and the per-package levels, given as package:level.
func setLogLevels(level string, packageLevels []string) (err error) {
	err = logging.SetLogLevel(level)
	for _, packageLevel := range packageLevels {
		pkg, lvl, ok := strings.Cut(packageLevel, ":")
		if !ok {
			err = multierr.Append(err, fmt.Errorf("log-pkgs must be a comma-separated list of package:level strings, got %q", packageLevel))
			continue
		}
		err = multierr.Append(err, logging.SetPackageLogLevel(pkg, lvl))
	}
	return err
}
