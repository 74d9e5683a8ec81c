package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subrelay/internal/config"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type rootFlags struct {
	configFile   string
	envFile      string
	settingsFile string
}

// load reads the configuration with the runtime settings file layered on top.
func (f *rootFlags) load(opts ...config.Option) (*config.Config, error) {
	settingsPath := strings.TrimSpace(f.settingsFile)
	if settingsPath == "" {
		settingsPath = config.RuntimeSettingsFilePath()
	}
	settings, err := config.RuntimeSettingsOption(settingsPath)
	if err != nil {
		return nil, err
	}

	return config.Load(config.LoadOptions{
		ConfigFile: strings.TrimSpace(f.configFile),
		EnvFile:    strings.TrimSpace(f.envFile),
	}, append([]config.Option{settings}, opts...)...)
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "subrelay",
		Short:         "Subtitle translation relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Environment file (default .env)")
	rootCmd.PersistentFlags().StringVar(&flags.settingsFile, "settings", "", "Runtime settings JSON file")

	rootCmd.AddCommand(newServeCommand(flags))
	rootCmd.AddCommand(newTranslateCommand(flags))

	return rootCmd
}
