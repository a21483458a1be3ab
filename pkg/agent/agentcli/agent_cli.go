package agentcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hidbridge/hidbridge/internal/replay"
	"github.com/hidbridge/hidbridge/pkg/agent"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "hidbridge"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		BridgeConfig: filepath.Join(configDir, "bridge.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "hidbridge",
		Short: "PS/2 to BLE keyboard bridge",
		Long:  `hidbridge decodes a PS/2 keyboard's Scan Code Set 2 stream and forwards HID reports to a host over a BLE coprocessor.`,
	}
	var a *agent.Agent
	provider := func() *agent.Agent {
		return a
	}
	rootCmd.PersistentFlags().StringVar(&cfg.BridgeConfig, "bridge-config", cfg.BridgeConfig, "bridge config file")
	rootCmd.PersistentFlags().BoolVar(&cfg.Simulate, "simulate", false, "run against the built-in coprocessor model")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(provider))
	rootCmd.AddCommand(NewReplay(provider))
	return rootCmd
}

func NewRun(provider agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  `Run the scan and transport loop until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return provider().Run(cmd.Context())
		},
	}
}

func NewReplay(provider agentProvider) *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "replay <dump>",
		Short: "Replay a scan code dump",
		Long:  `Feed a recorded scan code trace through the decoder and show the resulting matrix transitions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: replay <dump>")
			}
			trace, err := replay.LoadDump(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			if tui {
				return replay.View(trace)
			}
			events, matrix := replay.Run(provider().Log().Named("replay"), trace)
			replay.Print(cmd.OutOrStdout(), events, matrix)
			return nil
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "render the matrix interactively")
	return cmd
}
