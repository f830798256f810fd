package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/model"
)

// -- ingest --

var ingestCmd = &cobra.Command{
	Use:   "ingest <extraction.json>",
	Short: "Merge extractor output into a run",
	Long:  "Reads an extraction document ({\"fields\": {path: [candidates]}}) and merges it into a new run, or into --run-id when given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ext, err := readExtraction(args[0])
		if err != nil {
			return err
		}

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		runID, _ := cmd.Flags().GetString("run-id")
		res, err := env.Service.Ingest(ctx, runID, ext)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "run %s: %d changed, %d skipped, %d unknown\n",
			res.RunID, len(res.Merge.Changed), len(res.Merge.Skipped), len(res.Merge.Unknown))
		formatSummary(out, res.Summary)
		return nil
	},
}

// -- review --

var reviewCmd = &cobra.Command{
	Use:   "review <run-id>",
	Short: "Summarize the review state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Service.Review(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), summary)
		}
		formatSummary(cmd.OutOrStdout(), summary)
		return nil
	},
}

// -- validate --

var validateCmd = &cobra.Command{
	Use:   "validate <run-id>",
	Short: "Run rule checks, and external verification with --tier-two",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tierTwo, _ := cmd.Flags().GetBool("tier-two")

		env, err := initService(ctx, modeFor(tierTwo))
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Validate(ctx, args[0], tierTwo)
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		out := cmd.OutOrStdout()
		formatWarnings(out, res.Report.Warnings)
		formatSummary(out, res.Summary)
		return nil
	},
}

// -- approve --

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Freeze the canonical snapshot for autofill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, _, err := env.Service.Approve(ctx, args[0])
		if err != nil {
			var pre *model.ApprovalPreconditionError
			if errors.As(err, &pre) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Blocking fields:")
				for _, p := range pre.Blocking {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", p)
				}
			}
			return eris.Wrap(err, "approve")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "approved %s (approval %s, version %d, %d fields)\n",
			snap.RunID, snap.ApprovalID, snap.Version, len(snap.Fields))
		return nil
	},
}

// -- fill --

var fillCmd = &cobra.Command{
	Use:   "fill <run-id>",
	Short: "Send the approved snapshot to the form filler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "fill")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.Fill(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "fill")
		}
		formatFillReport(cmd.OutOrStdout(), report)
		return nil
	},
}

// -- postfill --

var postfillCmd = &cobra.Command{
	Use:   "postfill <run-id>",
	Short: "Validate the filled form against the approved snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tierTwo, _ := cmd.Flags().GetBool("tier-two")

		env, err := initService(ctx, modeFor(tierTwo))
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.PostFill(ctx, args[0], tierTwo)
		if err != nil {
			return eris.Wrap(err, "postfill")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		formatValidation(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("run-id", "", "merge into an existing run instead of creating one")
	reviewCmd.Flags().Bool("json", false, "print the summary as JSON")
	validateCmd.Flags().Bool("tier-two", false, "also call the external verifier")
	postfillCmd.Flags().Bool("tier-two", false, "also call the external verifier")
	postfillCmd.Flags().Bool("json", false, "print the full report as JSON")

	rootCmd.AddCommand(ingestCmd, reviewCmd, validateCmd, approveCmd, fillCmd, postfillCmd)
}

func modeFor(tierTwo bool) string {
	if tierTwo {
		return "verify"
	}
	return "store"
}

func readExtraction(path string) (model.Extraction, error) {
	var ext model.Extraction
	data, err := os.ReadFile(path)
	if err != nil {
		return ext, eris.Wrap(err, "read extraction")
	}
	if err := json.Unmarshal(data, &ext); err != nil {
		return ext, eris.Wrap(err, "parse extraction")
	}
	return ext, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSummary writes the review buckets to w.
func formatSummary(out io.Writer, s model.ReviewSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Blocking:\t%d\t%s\n", s.Blocking, strings.Join(s.BlockingFields, ", "))
	_, _ = fmt.Fprintf(w, "Needs review:\t%d\t%s\n", s.NeedsReview, strings.Join(s.ReviewFields, ", "))
	_, _ = fmt.Fprintf(w, "Auto-approved:\t%d\n", s.AutoApproved)
	_, _ = fmt.Fprintf(w, "Optional missing:\t%d\n", s.OptionalMissing)
	if len(s.SkippedDocuments) > 0 {
		_, _ = fmt.Fprintf(w, "Skipped documents:\t%s\n", strings.Join(s.SkippedDocuments, ", "))
	}
	_, _ = fmt.Fprintf(w, "Ready for autofill:\t%t\n", s.ReadyForAutofill)
	_ = w.Flush()
}

func formatWarnings(out io.Writer, warnings []model.Warning) {
	for _, wn := range warnings {
		if wn.Field != "" {
			_, _ = fmt.Fprintf(out, "warning [%s] %s: %s\n", wn.Code, wn.Field, wn.Message)
			continue
		}
		_, _ = fmt.Fprintf(out, "warning [%s] %s\n", wn.Code, wn.Message)
	}
}

func formatFillReport(out io.Writer, r *model.FillReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tRESULT\tREADBACK\tREASON")
	for _, a := range r.Attempts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Path, a.Result, deref(a.DOMReadbackValue), deref(a.FailureReasonCode))
	}
	_ = w.Flush()
}

func formatValidation(out io.Writer, r *model.ValidationReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tSTATUS\tVALUE\tCODES")
	for _, p := range sortedKeys(r.Fields) {
		e := r.Fields[p]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p, e.Status, deref(e.Value), strings.Join(e.Codes, ","))
	}
	_ = w.Flush()
	formatWarnings(out, r.Warnings)
	formatSummary(out, r.Summary)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
