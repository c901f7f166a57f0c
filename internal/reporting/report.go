// Package reporting renders cap tables for humans and spreadsheets.
package reporting

import (
	"io"

	"captable-indexer/internal/domain"
)

// Format selects an output rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatMarkdown:
		return f, nil
	default:
		return "", domain.Validationf("unknown format %q (want json, csv or md)", s)
	}
}

// CapTableReport is a cap table with optional concentration metrics.
type CapTableReport struct {
	Table         *domain.CapTable
	Concentration *domain.ConcentrationMetrics // optional
}

// Write renders r to w in a non-JSON format.
func Write(w io.Writer, f Format, r *CapTableReport) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r.Table)
	case FormatMarkdown:
		_, err := io.WriteString(w, RenderMarkdown(r))
		return err
	default:
		return domain.Validationf("format %q is not a report format", f)
	}
}
