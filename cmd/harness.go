package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/config"
	"github.com/telemy/aegis-shim/internal/core"
	"github.com/telemy/aegis-shim/internal/harness"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/mockcore"
	"github.com/telemy/aegis-shim/internal/tracing"
)

var harnessWithMock bool

var harnessCmd = &cobra.Command{
	Use:   "harness",
	Short: "Run the interactive shim harness",
	Long:  `Starts the shim core headless (auto-ack on) and a TUI that tails the structured log, shows the pipe state, and submits dock actions. Run "aegis-shim mock" first, or pass --with-mock to embed the peer.`,
	RunE:  runHarness,
}

func init() {
	harnessCmd.Flags().BoolVar(&harnessWithMock, "with-mock", false,
		"embed a mock core peer instead of dialing an external one")
	rootCmd.AddCommand(harnessCmd)
}

func runHarness(cmd *cobra.Command, args []string) error {
	logPath := cfg.Harness.LogPath
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "aegis-shim-harness.log")
	}
	cleanup, err := log.InitWithTeaLog(logPath, "harness")
	if err != nil {
		return fmt.Errorf("initializing log: %w", err)
	}
	defer cleanup()
	if !viper.GetBool("debug") {
		log.SetMinLevel(log.LevelInfo)
		// The embedded mock narrates every frame; keep it quiet unless
		// asked for.
		log.SetCategoryMinLevel(log.CatMock, log.LevelWarn)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(cmd.Context()) }()

	cmdEp, evtEp := channel.DefaultEndpoints(cfg.RuntimeDir)

	var peer *mockcore.Peer
	if harnessWithMock {
		peer = mockcore.New(mockcore.Config{
			CmdEndpoint:        cmdEp,
			EvtEndpoint:        evtEp,
			PushStatusOnChange: cfg.Mock.PushStatusOnChange,
		})
		if err := peer.Start(); err != nil {
			return fmt.Errorf("starting embedded mock core: %w", err)
		}
		defer peer.Stop()
	}

	autoAck := cfg.AutoAckSwitchScene
	shim, err := core.New(core.Config{
		CmdEndpoint:        cmdEp,
		EvtEndpoint:        evtEp,
		AutoAckSwitchScene: &autoAck,
		Tracer:             provider.Tracer(),
	})
	if err != nil {
		return fmt.Errorf("building core: %w", err)
	}
	shim.Start()
	defer shim.Stop("harness_exit")

	model := harness.NewModel(shim, cfg.Harness.MaxLogLines)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running harness: %w", err)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "aegis-shim.yaml")
	}
	return filepath.Join(home, ".config", "aegis-shim", "config.yaml")
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = defaultConfigPath()
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
