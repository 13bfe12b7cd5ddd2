package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vellum-cms/vellum/internal/config"
	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/types"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <item-id> [item-id...]",
	Short: "Assemble content items and print the result",
	Long: `Assemble one or more content items against their templates.

With a single item the rendered body is written to stdout (or --output).
With multiple items each result is preceded by a header line naming the
item and its status.

Examples:
  vellum assemble home-page
  vellum assemble home-page --template t-landing
  vellum assemble home-page --context 301 --output page.html
  vellum assemble home-page --debug`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAssemble,
}

func init() {
	rootCmd.AddCommand(assembleCmd)

	assembleCmd.Flags().StringP("template", "t", "", "template id or name to assemble with")
	assembleCmd.Flags().IntP("context", "c", 0, "assembly context (0 = preview)")
	assembleCmd.Flags().Int("page", 0, "page number for paginated items")
	assembleCmd.Flags().Int("revision", 0, "content revision (0 = current)")
	assembleCmd.Flags().Bool("debug", false, "render the binding debug view instead of the template output")
	assembleCmd.Flags().StringP("output", "o", "", "write the result to a file instead of stdout")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	template, _ := cmd.Flags().GetString("template")
	assemblyContext, _ := cmd.Flags().GetInt("context")
	page, _ := cmd.Flags().GetInt("page")
	revision, _ := cmd.Flags().GetInt("revision")
	debug, _ := cmd.Flags().GetBool("debug")
	output, _ := cmd.Flags().GetString("output")

	items := make([]*types.AssemblyItem, 0, len(args))
	for _, id := range args {
		item := &types.AssemblyItem{
			ID:       id,
			Revision: revision,
			Context:  assemblyContext,
			Debug:    debug,
			Params:   map[string][]string{},
		}
		item.SetParam(eval.ParamContext, strconv.Itoa(assemblyContext))
		if template != "" {
			item.SetParam(eval.ParamTemplate, template)
		}
		if page > 0 {
			item.Page = page
		}
		items = append(items, item)
	}

	results, err := eng.service.Assemble(cmd.Context(), items)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no items could be assembled")
	}

	if len(results) == 1 && output != "" {
		return os.WriteFile(output, results[0].Body, 0o644)
	}
	if len(results) == 1 {
		_, err := os.Stdout.Write(results[0].Body)
		return err
	}

	for _, result := range results {
		fmt.Printf("==> %s (%s, %s)\n", result.Item.ID, result.Status, result.MimeType)
		os.Stdout.Write(result.Body)
		fmt.Println()
	}
	return nil
}
