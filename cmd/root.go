package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telemy/aegis-shim/internal/config"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "aegis-shim",
	Short:   "IPC shim between a broadcasting host and the Aegis core service",
	Long:    `Tools around the Aegis IPC shim core: an interactive harness that exercises the session supervisor and dock-action intake, and a mock core peer to run it against.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/aegis-shim/config.yaml)")
	rootCmd.PersistentFlags().String("runtime-dir", "",
		"directory for the channel sockets")
	rootCmd.PersistentFlags().Bool("debug", false,
		"enable debug logging")
	rootCmd.PersistentFlags().Bool("trace", false,
		"enable span tracing")

	_ = viper.BindPFlag("runtime_dir", rootCmd.PersistentFlags().Lookup("runtime-dir"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("tracing.enabled", rootCmd.PersistentFlags().Lookup("trace"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("runtime_dir", defaults.RuntimeDir)
	viper.SetDefault("auto_ack_switch_scene", defaults.AutoAckSwitchScene)
	viper.SetDefault("harness.max_log_lines", defaults.Harness.MaxLogLines)
	viper.SetDefault("mock.push_status_on_change", defaults.Mock.PushStatusOnChange)
	viper.SetDefault("mock.scene_names", defaults.Mock.SceneNames)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "aegis-shim"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A present-but-broken config should not be silently ignored.
			cobra.CheckErr(err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
