package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/models"
)

var (
	reportParams []string
	reportPage   int
	reportLimit  int
	reportSort   string
	reportDir    string
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run catalog reports",
	Long: `List report definitions, show a page of a report or export it.

Filters are passed as key=value pairs.

Examples:
  atomai report list
  atomai report run level_summary -p repository_id=12
  atomai report run authority_usage --sort usage_count --dir desc --limit 20
  atomai report export description_list -f csv -o descriptions.csv -p level_id=236`,
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List report definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := apiClient.Reports(cmd.Context())
		if err != nil {
			return fmt.Errorf("list reports: %w", err)
		}
		if len(defs) == 0 {
			fmt.Println("No reports defined")
			return nil
		}
		fmt.Printf("%-24s %-30s %-14s %s\n", "CODE", "NAME", "CATEGORY", "FORMATS")
		fmt.Println(strings.Repeat("-", 84))
		for _, d := range defs {
			fmt.Printf("%-24s %-30s %-14s %s\n", d.Code, truncateText(d.Name, 30), d.Category, strings.Join(d.OutputFormats, ","))
			if verbose && len(d.Parameters) > 0 {
				for _, k := range sortedKeys(d.Parameters) {
					fmt.Printf("    %s: %s\n", k, d.Parameters[k])
				}
			}
		}
		return nil
	},
}

var reportRunCmd = &cobra.Command{
	Use:   "run <code>",
	Short: "Show one page of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := reportQuery()
		if err != nil {
			return err
		}
		res, err := apiClient.RunReport(cmd.Context(), args[0], params)
		if err != nil {
			return fmt.Errorf("run report: %w", err)
		}
		fmt.Println(res.Definition.Name)
		if len(res.Rows) == 0 {
			fmt.Println("No rows")
			return nil
		}
		fmt.Println(renderReport(res))
		if p := res.Pager; p != nil {
			fmt.Printf("Page %d of %d (%d rows)\n", p.Page, p.Pages, p.Total)
		}
		return nil
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export <code>",
	Short: "Export a report as csv, xlsx or pdf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := reportQuery()
		if err != nil {
			return err
		}
		name, data, err := apiClient.DownloadReport(cmd.Context(), args[0], reportFormat, params)
		if err != nil {
			return fmt.Errorf("export report: %w", err)
		}
		path := outputPath
		if path == "" {
			path = name
		}
		return writeOutput(path, data)
	},
}

func init() {
	for _, c := range []*cobra.Command{reportRunCmd, reportExportCmd} {
		c.Flags().StringArrayVarP(&reportParams, "param", "p", nil, "filter as key=value (repeatable)")
		c.Flags().StringVar(&reportSort, "sort", "", "sort column")
		c.Flags().StringVar(&reportDir, "dir", "", "sort direction (asc, desc)")
	}
	reportRunCmd.Flags().IntVar(&reportPage, "page", 1, "page number")
	reportRunCmd.Flags().IntVarP(&reportLimit, "limit", "l", 0, "rows per page")
	reportExportCmd.Flags().StringVarP(&reportFormat, "format", "f", "csv", "csv, xlsx or pdf")
	reportExportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (server filename when empty, - for stdout)")

	reportCmd.AddCommand(reportListCmd, reportRunCmd, reportExportCmd)
}

// reportQuery merges the key=value filters with the paging flags.
func reportQuery() (map[string]string, error) {
	q := make(map[string]string, len(reportParams)+4)
	for _, p := range reportParams {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", p)
		}
		q[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if reportPage > 1 {
		q["page"] = strconv.Itoa(reportPage)
	}
	if reportLimit > 0 {
		q["limit"] = strconv.Itoa(reportLimit)
	}
	if reportSort != "" {
		q["sort"] = reportSort
	}
	if reportDir != "" {
		q["dir"] = reportDir
	}
	return q, nil
}

// renderReport lays out the rows as a bordered table.
func renderReport(res *models.ReportResult) string {
	headerStyle := lipgloss.NewStyle().Foreground(defaultTheme.Status).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			row[i] = truncateText(cellText(r[col]), 40)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(defaultTheme.Hint)).
		Headers(res.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
