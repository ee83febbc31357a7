package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telemy/aegis-shim/internal/channel"
	"github.com/telemy/aegis-shim/internal/log"
	"github.com/telemy/aegis-shim/internal/mockcore"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run the mock core peer",
	Long:  `Serves both channels, acknowledges the shim's handshake, answers pings and status requests, and applies mode/setting changes. Stop with Ctrl-C.`,
	RunE:  runMock,
}

func init() {
	rootCmd.AddCommand(mockCmd)
}

func runMock(cmd *cobra.Command, args []string) error {
	log.InitWithWriter(os.Stderr)
	if !viper.GetBool("debug") {
		log.SetMinLevel(log.LevelInfo)
	}

	cmdEp, evtEp := channel.DefaultEndpoints(cfg.RuntimeDir)
	peer := mockcore.New(mockcore.Config{
		CmdEndpoint:        cmdEp,
		EvtEndpoint:        evtEp,
		PushStatusOnChange: cfg.Mock.PushStatusOnChange,
	})
	if err := peer.Start(); err != nil {
		return fmt.Errorf("starting mock core: %w", err)
	}
	defer peer.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "mock core listening (cmd=%s evt=%s)\n",
		cmdEp.String(), evtEp.String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
