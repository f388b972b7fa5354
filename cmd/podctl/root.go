package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PODCTL"
	configName     = ".podctl"
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 60 * time.Second
)

// app is the state shared by every subcommand. Settings resolve in the order
// flag, PODCTL_* environment variable, config file, default.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "podctl",
		Short:         "Manage RunPod training pods through a PodPilot server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			_, err := parseOutputFormat(a.v.GetString("output"))
			return err
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.podctl.yaml)")
	flags.String("server", defaultServer, "PodPilot server base URL")
	flags.String("api-key", "", "RunPod API key sent to servers running in header key mode")
	flags.Duration("timeout", defaultTimeout, "per-request timeout")
	flags.StringP("output", "o", string(outputTable), "output format (table, json, yaml)")

	for _, name := range []string{"config", "server", "api-key", "timeout", "output"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		newPodsCmd(a),
		newSubmitCmd(a),
		newLogsCmd(a),
	)

	return cmd
}

func (a *app) loadConfig() error {
	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(configName)
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (a *app) client() *client.Client {
	return client.New(
		a.v.GetString("server"),
		client.WithAPIKey(a.v.GetString("api-key")),
		client.WithTimeout(a.v.GetDuration("timeout")),
	)
}

func (a *app) output() outputFormat {
	f, _ := parseOutputFormat(a.v.GetString("output"))
	return f
}
