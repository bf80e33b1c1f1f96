package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harlam357/hfm-net-sub005/internal/parser"
)

// maxParallelLogs bounds how many logs summary reads at once.
const maxParallelLogs = 4

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fahlog",
		Short:        "Inspect FAHClient log files",
		Long:         "fahlog parses FAHClient logs into client, slot and unit runs.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(errorsCmd())
	rootCmd.AddCommand(exportCmd())
	return rootCmd
}

func readLog(ctx context.Context, path string) (*parser.FahClientLog, error) {
	log := parser.NewFahClientLog()
	// Errors from ReadFileContext already name the path.
	if err := log.ReadFileContext(ctx, path); err != nil {
		return nil, err
	}
	return log, nil
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <log>...",
		Short: "Print per-run and per-slot unit tallies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs := make([]*parser.FahClientLog, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(maxParallelLogs)
			for i, path := range args {
				g.Go(func() error {
					log, err := readLog(ctx, path)
					if err != nil {
						return err
					}
					logs[i] = log
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, log := range logs {
				writeSummary(out, args[i], log)
			}
			return nil
		},
	}
}

func writeSummary(out io.Writer, path string, log *parser.FahClientLog) {
	fmt.Fprintf(out, "== %s (%d lines) ==\n", path, log.LineCount())
	for _, run := range log.ClientRuns() {
		start := "unknown"
		if !run.Data.StartTime.IsZero() {
			start = run.Data.StartTime.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "run %d  started %s  version %s  lines %d-%d  errors %d\n",
			run.Index, start, orDash(run.Data.ClientVersion), run.LineStart, run.LineEnd,
			len(log.ParserErrors(run)))

		for _, slot := range run.SlotRuns {
			fmt.Fprintf(out, "  slot %02d  units %d  completed %d  failed %d\n",
				slot.Index, len(slot.UnitRuns), slot.Data.CompletedUnits, slot.Data.FailedUnits)
			for _, unit := range slot.UnitRuns {
				d := unit.Data
				fmt.Fprintf(out, "    WU%02d  P%d (R%d, C%d, G%d)  frames %d  %s\n",
					unit.QueueIndex, d.ProjectID, d.ProjectRun, d.ProjectClone, d.ProjectGen,
					d.FramesObserved, d.WorkUnitResult)
			}
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func errorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors <log>",
		Short: "List lines whose data could not be extracted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := readLog(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			count := 0
			for _, run := range log.ClientRuns() {
				for _, line := range log.ParserErrors(run) {
					perr, _ := line.ParserError()
					fmt.Fprintf(out, "run %d line %d: %s: %s\n", run.Index, line.Index, perr.RuleType, perr.Reason)
					count++
				}
			}
			if count == 0 {
				fmt.Fprintln(out, "no parser errors")
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var dbPath, logID string

	cmd := &cobra.Command{
		Use:   "export <log>",
		Short: "Persist the run hierarchy of a log into a DuckDB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			if logID == "" {
				base := filepath.Base(args[0])
				logID = strings.TrimSuffix(base, filepath.Ext(base))
			}

			log, err := readLog(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			store, err := parser.NewRunStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(cmd.Context(), logID, log); err != nil {
				return err
			}
			units, err := store.UnitRunSummaries(cmd.Context(), logID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s: %d client runs, %d unit runs\n",
				logID, len(log.ClientRuns()), len(units))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB file to write")
	cmd.Flags().StringVar(&logID, "id", "", "log id (defaults to the file name)")
	return cmd
}
