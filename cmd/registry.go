package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the field registry",
}

var registryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List every registered field",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return err
		}
		doc, _ := cmd.Flags().GetString("document")
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd.OutOrStdout(), filterSpecs(reg, doc))
		}
		formatRegistry(cmd.OutOrStdout(), filterSpecs(reg, doc))
		return nil
	},
}

func init() {
	registryShowCmd.Flags().String("document", "", "only show fields of this document (passport, g28)")
	registryShowCmd.Flags().Bool("json", false, "print the registry as JSON")

	registryCmd.AddCommand(registryShowCmd)
	rootCmd.AddCommand(registryCmd)
}

func filterSpecs(reg *model.FieldRegistry, doc string) []model.FieldSpec {
	if doc == "" {
		return reg.Fields
	}
	var out []model.FieldSpec
	for _, s := range reg.ByDocument(doc) {
		out = append(out, *s)
	}
	return out
}

func formatRegistry(out io.Writer, specs []model.FieldSpec) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tTYPE\tREQUIRED\tHUMAN\tMIRRORS")
	for _, s := range specs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Path, s.Type, yesNo(s.Required), yesNo(s.HumanRequired), s.Mirrors)
	}
	_ = w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
