package main

import (
	"fmt"

	"github.com/dkeye/LiveStudio/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "livecore",
		Short:         "Live studio session client",
		Long:          "livecore runs one live session (broadcast, watch, multi-guest seats, PK battles) against the room bus and exposes a local control API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/config.$CONFIG_ENV.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("user-id", "", "stable user id on the room bus")
	root.PersistentFlags().String("user-name", "", "display name")

	bind := func(key, flag string) {
		if err := v.BindPFlag(key, root.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	bind("log_level", "log-level")
	bind("user.id", "user-id")
	bind("user.name", "user-name")

	load := func() (*config.Config, error) {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
		cfg, err := config.Load(v)
		if err != nil {
			return nil, err
		}
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
			zerolog.SetGlobalLevel(lvl)
		} else if err != nil {
			log.Warn().Err(err).Str("module", "main").Str("level", cfg.LogLevel).Msg("unknown log level")
		}
		return cfg, nil
	}

	root.AddCommand(newServeCmd(v, load), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "livecore", version)
		},
	}
}
