package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planbiir/drivelog/internal/audit"
	"github.com/planbiir/drivelog/internal/config"
	"github.com/planbiir/drivelog/internal/gpx"
	"github.com/planbiir/drivelog/internal/importer"
	"github.com/planbiir/drivelog/internal/log"
	"github.com/planbiir/drivelog/internal/store"
	"github.com/planbiir/drivelog/internal/track"
)

type importOptions struct {
	dryRun     bool
	reportPath string
	noBackup   bool
	statsJSON  bool
}

func newImportCmd() *cobra.Command {
	opts := importOptions{}
	cmd := &cobra.Command{
		Use:   "import [flags] file.gpx...",
		Short: "Clean GPX recordings and merge them into the store",
		Long: `Runs every track of the given GPX files through its device pipeline and
appends the ones whose source timestamp is not stored yet. Stored tracks are
never replaced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show the report without committing")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write the audit report as CSV")
	cmd.Flags().BoolVar(&opts.noBackup, "no-backup", false, "do not back up the store before committing")
	cmd.Flags().BoolVar(&opts.statsJSON, "stats-json", false, "print the report as JSON")
	return cmd
}

func runImport(cmd *cobra.Command, files []string, opts importOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	started := time.Now().UTC()

	pipelines, err := loadPipelines()
	if err != nil {
		return err
	}

	db, repo, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := repo.Load(ctx)
	if err != nil {
		return err
	}

	sinks := audit.Multi{audit.NewZapSink(log.Logger)}
	var report *audit.CSVSink
	if opts.reportPath != "" {
		report, err = audit.CreateCSV(opts.reportPath)
		if err != nil {
			return err
		}
		defer report.Close()
		sinks = append(sinks, report)
	}

	im := importer.New(snap, pipelines,
		importer.WithSink(sinks),
		importer.WithIgnore(pipelines.Import.Ignore),
		importer.WithMinPoints(pipelines.Import.MinPoints),
		importer.WithLogger(log.Logger),
	)

	result, err := im.Run(gpx.NewSource(files...).Tracks())
	if err != nil {
		return err
	}

	if opts.statsJSON {
		if err := printReportJSON(out, result, snap); err != nil {
			return err
		}
	} else {
		printReport(out, result, snap)
	}

	if report != nil {
		if err := report.Close(); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if opts.dryRun {
		fmt.Fprintf(out, "🔍 Dry run completed - store not modified\n")
		return nil
	}

	if len(result.Imported()) > 0 && !opts.noBackup {
		backup := fmt.Sprintf("%s.%s.bak", config.StorePath, started.Format("20060102T150405Z"))
		if err := repo.Backup(ctx, backup); err != nil {
			return err
		}
		fmt.Fprintf(out, "💾 Backup written: %s\n", backup)
	}

	n, err := repo.Commit(ctx, snap, &store.Run{
		ID:         result.RunID,
		StartedAt:  started,
		Merged:     result.Count(importer.OutcomeMerged),
		Duplicates: result.Count(importer.OutcomeDuplicate),
		Collisions: result.Count(importer.OutcomeCollision),
		Rejected:   result.Count(importer.OutcomeRejected),
		Empty:      result.Count(importer.OutcomeEmpty),
		Malformed:  result.Count(importer.OutcomeMalformed),
		Ignored:    result.Count(importer.OutcomeIgnored),
	})
	if err != nil {
		return err
	}

	log.Logger.Info("import committed", zap.String("run", result.RunID), zap.Int("tracks", n))
	fmt.Fprintf(out, "✅ %d tracks committed to %s\n", n, config.StorePath)
	return nil
}

func printReport(w io.Writer, r *importer.BatchReport, snap *store.Snapshot) {
	fmt.Fprintf(w, "\n📊 Import Report (run %s):\n", r.RunID)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "📥 Tracks read: %d\n", len(r.Entries))
	fmt.Fprintf(w, "✅ Merged: %d\n", len(r.Imported()))
	for _, e := range r.Imported() {
		if t := snap.Lookup(e.SourceTimestamp); t != nil {
			s := track.Summarize(t)
			fmt.Fprintf(w, "   • %s [%s] %d points, %.2f km, P95 %.1f m/s\n",
				track.Key(e.SourceTimestamp), e.Device, s.Points, s.Distance, s.P95Speed)
		}
	}
	fmt.Fprintf(w, "⏭️  Skipped: %d (%d duplicates, %d same-batch collisions)\n",
		len(r.Skipped()), r.Count(importer.OutcomeDuplicate), r.Count(importer.OutcomeCollision))
	fmt.Fprintf(w, "❌ Invalid: %d\n", len(r.Invalid()))
	for _, e := range r.Invalid() {
		line := fmt.Sprintf("   • %s: %s", e.Origin, e.Outcome)
		if e.Err != nil {
			line += fmt.Sprintf(" (%v)", e.Err)
		}
		fmt.Fprintln(w, line)
	}
	for _, c := range r.Collisions() {
		fmt.Fprintf(w, "   ⚠️  %v\n", c)
	}
	if len(r.Stages) > 0 {
		fmt.Fprintf(w, "🔄 Processing Steps:\n")
		for _, st := range r.Stages {
			fmt.Fprintf(w, "   • %s: %d → %d points, %d → %d segments\n",
				st.Stage, st.PointsIn, st.PointsOut, st.SegmentsIn, st.SegmentsOut)
		}
	}
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
}

type jsonEntry struct {
	Origin          string         `json:"origin"`
	SourceTimestamp string         `json:"source_timestamp,omitempty"`
	Device          string         `json:"device,omitempty"`
	Outcome         string         `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	Summary         *track.Summary `json:"summary,omitempty"`
}

func printReportJSON(w io.Writer, r *importer.BatchReport, snap *store.Snapshot) error {
	doc := struct {
		RunID   string      `json:"run_id"`
		Entries []jsonEntry `json:"entries"`
		Stages  any         `json:"stages"`
	}{RunID: r.RunID, Stages: r.Stages, Entries: []jsonEntry{}}

	for _, e := range r.Entries {
		je := jsonEntry{Origin: e.Origin, Device: e.Device, Outcome: string(e.Outcome)}
		if !e.SourceTimestamp.IsZero() {
			je.SourceTimestamp = track.Key(e.SourceTimestamp)
		}
		if e.Err != nil {
			je.Error = e.Err.Error()
		}
		if e.Outcome == importer.OutcomeMerged {
			if t := snap.Lookup(e.SourceTimestamp); t != nil {
				s := track.Summarize(t)
				je.Summary = &s
			}
		}
		doc.Entries = append(doc.Entries, je)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
