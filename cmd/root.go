// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/service"
)

const envPrefix = "WOY"

// app carries the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	factory service.ComponentFactory
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	a := &app{v: viper.New(), factory: factory}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:           "woy",
		Short:         "Who Owns You shows who owns the channel behind the video you are watching.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(a.v)
			if err != nil {
				// Still give the user a logger to report through.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "woy"})
				return err
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version), zap.String("config", a.v.ConfigFileUsed()))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "woy version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.woy/config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("backend", "", "preference backend (memory, file, postgres)")
	_ = a.v.BindPFlag("logger.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("preference.backend", flags.Lookup("backend"))

	rootCmd.AddCommand(
		newRunCmd(a),
		newToggleCmd(a),
		newStatusCmd(a),
		newLookupCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree and logs a failure. Cancellation by signal
// is returned as is so the caller can exit cleanly.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	observability.GetLogger().Debug("Command execution failed", zap.Error(err))
	return err
}

// initializeConfig reads the config file, if any, and WOY_ environment variables.
func (a *app) initializeConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME/.woy")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
