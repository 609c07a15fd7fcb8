package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/keywheel/keywheel/internal/core/store"
	"github.com/keywheel/keywheel/internal/output"
)

var (
	journalListCredential string
	journalListKind       string
	journalListSince      time.Duration
	journalListLimit      int
	journalListOutput     string
	journalListOut        string

	journalPruneBefore time.Duration
	journalPruneYes    bool
	journalPruneDryRun bool
	journalPruneOutput string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and prune the usage journal",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded usage events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(journalListOutput)
		if err != nil {
			return err
		}

		query := store.EventQuery{
			Credential: strings.TrimSpace(journalListCredential),
			Limit:      journalListLimit,
		}
		if strings.TrimSpace(journalListKind) != "" {
			kind, err := store.ParseEventKind(journalListKind)
			if err != nil {
				return err
			}
			query.Kind = kind
		}
		if journalListSince > 0 {
			query.Since = time.Now().Add(-journalListSince)
		}

		db, err := openConfiguredJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		events, err := db.ListEvents(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered, err := output.FormatEvents(format, events)
		if err != nil {
			return err
		}

		sink, err := openSink(journalListOut)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal events older than --before",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(journalPruneOutput)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		if journalPruneBefore <= 0 {
			return errors.New("--before must be a positive duration, e.g. 720h")
		}
		if !journalPruneYes && !journalPruneDryRun {
			return errors.New("prune requires --yes (or use --dry-run)")
		}

		cutoff := time.Now().Add(-journalPruneBefore)

		db, err := openConfiguredJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountEvents(cmd.Context(), store.EventQuery{Before: cutoff})
		if err != nil {
			return err
		}

		if journalPruneDryRun {
			return writePruneResult(format, cmd.OutOrStdout(), cutoff, matched, 0, true)
		}

		deleted, err := db.PruneEvents(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		return writePruneResult(format, cmd.OutOrStdout(), cutoff, matched, deleted, false)
	},
}

func writePruneResult(format output.Format, w io.Writer, cutoff time.Time, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"before":  cutoff.UTC().Format(time.RFC3339),
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Journal Prune", ""}
	lines = append(lines, "Before:  "+cutoff.UTC().Format(time.RFC3339))
	if dryRun {
		lines = append(lines, fmt.Sprintf("Would delete %d event(s)", matched))
	} else {
		lines = append(lines, fmt.Sprintf("Deleted %d/%d event(s)", deleted, matched))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func init() {
	journalListCmd.Flags().StringVar(&journalListCredential, "credential", "", "Only events for this credential name")
	journalListCmd.Flags().StringVar(&journalListKind, "kind", "", "Only events of this kind: selected|confirmed|failure|exhausted|reactivated")
	journalListCmd.Flags().DurationVar(&journalListSince, "since", 0, "Only events newer than this duration, e.g. 24h")
	journalListCmd.Flags().IntVar(&journalListLimit, "limit", 50, "Maximum events to show (0 for all)")
	journalListCmd.Flags().StringVar(&journalListOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	journalListCmd.Flags().StringVar(&journalListOut, "out", "", "Write output to a file (default stdout)")

	journalPruneCmd.Flags().DurationVar(&journalPruneBefore, "before", 0, "Delete events older than this duration, e.g. 720h")
	journalPruneCmd.Flags().BoolVar(&journalPruneYes, "yes", false, "Confirm deletion")
	journalPruneCmd.Flags().BoolVar(&journalPruneDryRun, "dry-run", false, "Show what would be deleted")
	journalPruneCmd.Flags().StringVar(&journalPruneOutput, "output-format", string(output.FormatTable), "Output format: table|json")

	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalPruneCmd)
	rootCmd.AddCommand(journalCmd)
}
