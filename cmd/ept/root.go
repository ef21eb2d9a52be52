package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ippclub/better-ept/internal/config"
	"github.com/ippclub/better-ept/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries state shared by all subcommands
type app struct {
	cfgFile string
	baseURL string
	verbose bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "ept",
		Short: "Resolve and download Better-Ept package archives",
		Long: `ept works with package descriptors of the form

  <name>_<version>_<author>_<types>

and downloads the matching <types>/<name>_<version>_<author>.7z archive
from a package repository.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "package repository base url (overrides client.base_url)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newParseCmd(a))
	rootCmd.AddCommand(newURLCmd(a))
	rootCmd.AddCommand(newGetCmd(a))

	return rootCmd
}

// init loads the optional config file and sets up logging on stderr
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadFromFile(a.cfgFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return err
		}
		cfg = config.Default()
	}
	a.cfg = cfg

	logCfg := config.Log{Level: "warn"}
	if a.verbose {
		logCfg.Level = "debug"
	}
	a.log, err = logger.New(logCfg, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// resolveBaseURL prefers the flag over the configuration file
func (a *app) resolveBaseURL() (string, error) {
	if a.baseURL != "" {
		return a.baseURL, nil
	}
	if a.cfg != nil && a.cfg.Client.BaseURL != "" {
		return a.cfg.Client.BaseURL, nil
	}
	return "", errors.New("no base url: pass --base-url or set client.base_url")
}
