package app

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/services"
)

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// PrintDiagnosis writes a human readable diagnosis report
func PrintDiagnosis(w io.Writer, report *services.DiagnosisReport) error {
	fmt.Fprintf(w, "Event %s: %d batches, %d stale status, %d exhausted, %d over capacity\n",
		report.EventID, report.TotalBatches, report.MismatchCount, report.ExhaustedCount, report.CapacityViolationCount)
	if report.NilBatchCount > 0 {
		fmt.Fprintf(w, "%d empty batch entries were skipped\n", report.NilBatchCount)
	}
	if len(report.Batches) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tTITLE\tSTORED\tCOMPUTED\tAVAILABLE\tTOTAL\tFLAGS")
	for _, b := range report.Batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			b.BatchID, b.Title, b.PersistedStatus, b.ComputedStatus, b.AvailableTickets, b.TotalTickets, debugFlags(b))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stale := report.Mismatched()
	if len(stale) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%d batches need a status repair (fix-batch-status --event %s):\n", len(stale), report.EventID)
	for _, b := range stale {
		fmt.Fprintf(w, "  %s: %s -> %s\n", b.BatchID, b.PersistedStatus, b.ComputedStatus)
	}
	return nil
}

func debugFlags(b *models.BatchDebugInfo) string {
	flags := ""
	add := func(ok bool, name string) {
		if !ok {
			return
		}
		if flags != "" {
			flags += ","
		}
		flags += name
	}
	add(b.UnknownStatus, "unknown-status")
	add(b.StatusMismatch, "stale")
	add(b.Exhausted, "exhausted")
	add(b.CapacityExceeded, "over-capacity")
	add(!b.StartDateValid, "bad-start")
	add(!b.EndDateValid, "bad-end")
	if flags == "" {
		return "-"
	}
	return flags
}

// PrintRepairReport writes a human readable repair report
func PrintRepairReport(w io.Writer, report *services.RepairReport) error {
	fmt.Fprintf(w, "%s on %s %s: %s (checked %d, fixed %d, unchanged %d, failed %d, not found %d, skipped %d)\n",
		report.Operation, report.TargetType, report.TargetID, report.Summary(),
		report.Checked, report.Fixed, report.Unchanged, report.Failed, report.NotFound, report.Skipped)
	if len(report.Outcomes) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tRESULT\tSTATUS\tAVAILABLE\tERROR")
	for _, o := range report.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.BatchID, o.Result, statusChange(o), availabilityChange(o), o.Error)
	}
	return tw.Flush()
}

func statusChange(o *services.RepairOutcome) string {
	if o.StatusBefore == "" {
		return "-"
	}
	if o.StatusAfter == "" || o.StatusAfter == o.StatusBefore {
		return string(o.StatusBefore)
	}
	return fmt.Sprintf("%s -> %s", o.StatusBefore, o.StatusAfter)
}

func availabilityChange(o *services.RepairOutcome) string {
	if o.AvailableBefore == o.AvailableAfter {
		return fmt.Sprintf("%d", o.AvailableBefore)
	}
	return fmt.Sprintf("%d -> %d", o.AvailableBefore, o.AvailableAfter)
}

// ExitCode maps a repair summary to a process exit status: 0 when
// everything is consistent, 2 for partial failure, 1 otherwise
func ExitCode(summary services.RepairSummary) int {
	switch summary {
	case services.SummaryNoProblems, services.SummaryFixed:
		return 0
	case services.SummaryPartialFailure:
		return 2
	default:
		return 1
	}
}
