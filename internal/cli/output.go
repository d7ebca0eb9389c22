package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/graphstore"
	"github.com/spectra-red/sentinel/internal/orchestrator"
)

// OutputFormat represents the supported output formats.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTable OutputFormat = "table"
)

// OutputOptions controls output formatting behavior.
type OutputOptions struct {
	Format     OutputFormat
	NoColor    bool
	Writer     io.Writer
	IsTerminal bool
}

// NewOutputOptions creates output options with sensible defaults.
func NewOutputOptions(format string, noColor bool) *OutputOptions {
	opts := &OutputOptions{
		Format:  FormatTable,
		NoColor: noColor,
		Writer:  os.Stdout,
	}

	if f, ok := opts.Writer.(*os.File); ok {
		opts.IsTerminal = isatty.IsTerminal(f.Fd())
	}

	switch strings.ToLower(format) {
	case "json":
		opts.Format = FormatJSON
	case "yaml", "yml":
		opts.Format = FormatYAML
	default:
		opts.Format = FormatTable
	}

	if !opts.IsTerminal || noColor {
		color.NoColor = true
	}

	return opts
}

func formatJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

// FormatScanHistory renders a page of scan_history rows.
func FormatScanHistory(opts *OutputOptions, rows []orchestrator.RunRecord) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, rows)
	case FormatYAML:
		return formatYAML(opts.Writer, rows)
	default:
		table := tablewriter.NewWriter(opts.Writer)
		table.SetHeader([]string{"Scan ID", "Connector", "Status", "Found", "Updated", "Stale", "Started", "Duration (ms)"})
		for _, r := range rows {
			status := string(r.Status)
			if !opts.NoColor {
				status = colorizeStatus(r.Status)
			}
			table.Append([]string{
				r.ID, r.ConnectorID, status,
				strconv.Itoa(r.NodesFound), strconv.Itoa(r.NodesUpdated), strconv.Itoa(r.NodesStale),
				r.StartedAt.Format("2006-01-02T15:04:05Z"), strconv.FormatInt(r.DurationMS, 10),
			})
		}
		table.Render()
		return nil
	}
}

func colorizeStatus(s domain.RunStatus) string {
	switch s {
	case domain.RunCompleted:
		return color.GreenString(string(s))
	case domain.RunFailed:
		return color.RedString(string(s))
	case domain.RunPartial, domain.RunCancelled:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// FormatNodes renders a graph store page of nodes, printing whatever
// property keys the first row has (node variants carry different
// shapes; there is no fixed schema to hardcode column headers against).
func FormatNodes(opts *OutputOptions, page graphstore.Page) error {
	switch opts.Format {
	case FormatJSON:
		return formatJSON(opts.Writer, page)
	case FormatYAML:
		return formatYAML(opts.Writer, page)
	default:
		table := tablewriter.NewWriter(opts.Writer)
		table.SetHeader([]string{"ID", "Label", "Natural Key"})
		for _, n := range page.Nodes {
			table.Append([]string{n.ID(), string(n.Label()), n.NaturalKey()})
		}
		table.Render()
		fmt.Fprintf(opts.Writer, "%d total, %d returned\n", page.Total, len(page.Nodes))
		return nil
	}
}
