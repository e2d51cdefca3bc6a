package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/forms"
	"github.com/raphaelgruber/atom-ai/internal/models"
)

var (
	formType       string
	exportFormat   string
	outputPath     string
	importName     string
	resolveRepo    int64
	resolveLevel   int64
	resolveParent  int64
	resolveVerbose bool
)

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "Manage data-entry form templates",
	Long: `List, export and import form templates and check which template applies
to a description context.

Examples:
  atomai forms list --type accession
  atomai forms export 3 --format json -o accession.json
  atomai forms import accession.yaml --name "Accession (museum)"
  atomai forms resolve --repository 12 --level 236`,
}

var formsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient.Templates(cmd.Context(), formType)
		if err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No templates found")
			return nil
		}
		fmt.Printf("%-6s %-34s %-20s %-8s %s\n", "ID", "NAME", "TYPE", "VERSION", "FLAGS")
		fmt.Println(strings.Repeat("-", 80))
		for _, t := range list {
			var flags []string
			if t.IsSystem {
				flags = append(flags, "system")
			}
			if t.IsDefault {
				flags = append(flags, "default")
			}
			fmt.Printf("%-6d %-34s %-20s %-8d %s\n", t.ID, truncateText(t.Name, 34), t.FormType, t.Version, strings.Join(flags, ","))
		}
		return nil
	},
}

var formsExportCmd = &cobra.Command{
	Use:   "export <template-id>",
	Short: "Export a template as YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectArg(args[0])
		if err != nil {
			return err
		}
		data, err := apiClient.ExportTemplate(cmd.Context(), id, exportFormat)
		if err != nil {
			return fmt.Errorf("export template: %w", err)
		}
		return writeOutput(outputPath, data)
	},
}

var formsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a template from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		tpl, err := apiClient.ImportTemplate(cmd.Context(), data, importName)
		if err != nil {
			return fmt.Errorf("import template: %w", err)
		}
		fmt.Printf("Imported template %d %q with %d fields\n", tpl.ID, tpl.Name, len(tpl.Fields))
		return nil
	},
}

var formsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the template that applies to a description context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := models.ResolveRequest{FormType: formType}
		if resolveRepo > 0 {
			req.RepositoryID = &resolveRepo
		}
		if resolveLevel > 0 {
			req.LevelID = &resolveLevel
		}
		if resolveParent > 0 {
			req.ParentID = &resolveParent
		}
		tpl, err := apiClient.ResolveForm(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("resolve template: %w", err)
		}
		if tpl == nil {
			fmt.Println("No template applies; the standard edit form is used")
			return nil
		}
		fmt.Printf("Template %d %q (%s, version %d)\n", tpl.ID, tpl.Name, tpl.FormType, tpl.Version)
		if resolveVerbose {
			for _, f := range tpl.Fields {
				req := ""
				if f.IsRequired {
					req = "*"
				}
				fmt.Printf("  %3d %-28s %-10s %s%s\n", f.SortOrder, f.FieldName, f.FieldType, f.Label, req)
			}
		}
		return nil
	},
}

var formsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show template, draft and submission counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient.FormStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("form stats: %w", err)
		}
		fmt.Println("Templates:")
		for _, k := range sortedKeys(st.TemplatesByType) {
			fmt.Printf("  %-20s %d\n", k, st.TemplatesByType[k])
		}
		fmt.Printf("Active assignments: %d\n", st.ActiveAssignments)
		fmt.Printf("Pending drafts: %d\n", st.PendingDrafts)
		if len(st.Submissions30Days) > 0 {
			fmt.Println("Submissions (30 days):")
			for _, k := range sortedKeys(st.Submissions30Days) {
				fmt.Printf("  %-20s %d\n", k, st.Submissions30Days[k])
			}
		}
		return nil
	},
}

func init() {
	formsListCmd.Flags().StringVar(&formType, "type", "", "form type (information_object, accession)")
	formsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", forms.FormatYAML, "yaml or json")
	formsExportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (stdout when empty)")
	formsImportCmd.Flags().StringVar(&importName, "name", "", "name for the imported template")
	formsResolveCmd.Flags().StringVar(&formType, "type", models.FormInformationObject, "form type")
	formsResolveCmd.Flags().Int64Var(&resolveRepo, "repository", 0, "repository id")
	formsResolveCmd.Flags().Int64Var(&resolveLevel, "level", 0, "level of description term id")
	formsResolveCmd.Flags().Int64Var(&resolveParent, "parent", 0, "parent description id")
	formsResolveCmd.Flags().BoolVar(&resolveVerbose, "fields", false, "list the template fields")

	formsCmd.AddCommand(formsListCmd, formsExportCmd, formsImportCmd, formsResolveCmd, formsStatsCmd)
}
