package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/pipeline"
)

// -- edit --

var editCmd = &cobra.Command{
	Use:   "edit <run-id> <path=value>...",
	Short: "Apply user edits to a run",
	Long:  "Applies a batch of edits. Values a rule rejects fail the whole batch unless --force is set.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		edits, err := parseEdits(args[1:])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Edit(ctx, args[0], edits, force)
		if err != nil {
			return eris.Wrap(err, "edit")
		}
		formatOpResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// -- accept-all --

var acceptAllCmd = &cobra.Command{
	Use:   "accept-all <run-id>",
	Short: "Confirm every blocking and needs-review field as it stands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.AcceptAll(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "accept-all")
		}
		formatOpResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// -- apply-suggestion --

var applySuggestionCmd = &cobra.Command{
	Use:   "apply-suggestion <run-id> <path> <index>",
	Short: "Replace a field value with one of its suggestions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		index, err := strconv.Atoi(args[2])
		if err != nil || index < 0 {
			return eris.Errorf("apply-suggestion: invalid index %q", args[2])
		}

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.ApplySuggestion(ctx, args[0], args[1], index)
		if err != nil {
			return eris.Wrap(err, "apply-suggestion")
		}
		formatOpResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// -- resolve-conflict --

var resolveConflictCmd = &cobra.Command{
	Use:   "resolve-conflict <run-id> <path> <label>",
	Short: "Pick one candidate of a field conflict",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.ResolveConflict(ctx, args[0], args[1], args[2])
		if err != nil {
			return eris.Wrap(err, "resolve-conflict")
		}
		formatOpResult(cmd.OutOrStdout(), res)
		return nil
	},
}

// -- confirm-invalid --

var confirmInvalidCmd = &cobra.Command{
	Use:   "confirm-invalid <run-id> <path>",
	Short: "Pin a field red",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.ConfirmInvalid(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "confirm-invalid")
		}
		formatOpResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	editCmd.Flags().Bool("force", false, "store values even when a rule rejects them")

	rootCmd.AddCommand(editCmd, acceptAllCmd, applySuggestionCmd, resolveConflictCmd, confirmInvalidCmd)
}

// parseEdits turns path=value arguments into an edit batch. The value may
// be empty; the first '=' separates path from value.
func parseEdits(args []string) (map[string]string, error) {
	edits := make(map[string]string, len(args))
	for _, arg := range args {
		path, value, ok := strings.Cut(arg, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, eris.Errorf("edit: expected path=value, got %q", arg)
		}
		if _, dup := edits[path]; dup {
			return nil, eris.Errorf("edit: %s given more than once", path)
		}
		edits[path] = value
	}
	return edits, nil
}

// formatOpResult writes the touched fields and the new review counts to w.
func formatOpResult(out io.Writer, res *pipeline.OpResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tSTATUS\tVALUE")
	for _, f := range res.Fields {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, f.Status, f.StringValue())
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "version %d: %d blocking, %d needs review\n",
		res.Version, res.Summary.Blocking, res.Summary.NeedsReview)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
