package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planbiir/drivelog/internal/config"
	"github.com/planbiir/drivelog/internal/gpx"
	"github.com/planbiir/drivelog/internal/track"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store or upgrade its schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := db.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d (dirty: %v)\n", config.StorePath, version, dirty)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the store: unique timestamps, points and geometry per track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			problems, err := repo.Check(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintf(out, "✅ %s is consistent\n", config.StorePath)
				return nil
			}
			for _, p := range problems {
				fmt.Fprintf(out, "❌ %s\n", p)
			}
			return fmt.Errorf("%d problems found in %s", len(problems), config.StorePath)
		},
	}
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export -o out.gpx",
		Short: "Write the stored tracks to a GPX file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("missing --output")
			}
			db, repo, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := gpx.FromTracks(snap.Tracks(), "drivelog").Write(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "💾 %d tracks written to %s\n", snap.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "GPX file to write")
	return cmd
}

func newTimestampsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timestamps",
		Short: "List the source timestamps in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			stamps, err := repo.Timestamps(cmd.Context())
			if err != nil {
				return err
			}
			for _, ts := range stamps {
				fmt.Fprintln(cmd.OutOrStdout(), track.Key(ts))
			}
			return nil
		},
	}
}
