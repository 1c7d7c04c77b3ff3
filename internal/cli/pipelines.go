package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planbiir/drivelog/internal/device"
)

func newPipelinesCmd() *cobra.Command {
	var dumpDefault bool
	cmd := &cobra.Command{
		Use:   "pipelines [creator]",
		Short: "Show the device pipelines, or the one a GPX creator resolves to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if dumpDefault {
				_, err := out.Write(device.DefaultYAML())
				return err
			}

			cfg, err := loadPipelines()
			if err != nil {
				return err
			}

			names := cfg.DeviceNames()
			if len(args) == 1 {
				names = []string{cfg.Resolve(args[0]).Device}
			}
			for _, name := range names {
				p := cfg.Pipeline(name)
				stages := make([]string, len(p.Stages))
				for i, st := range p.Stages {
					stages[i] = string(st.Name)
				}
				fmt.Fprintf(out, "%s: %s\n", name, strings.Join(stages, " → "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dumpDefault, "default", false, "print the built-in pipeline file")
	return cmd
}
