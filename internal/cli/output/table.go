package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table is a list of rows under column headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates an empty table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// PrintTable writes t with upper-cased headers and aligned columns.
func PrintTable(w io.Writer, t *Table) error {
	tw := newWriter(w)
	tw.SetHeader(t.Headers)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.AppendBulk(t.Rows)
	tw.Render()
	return nil
}

// KeyValue is a two-column table without headers, used for single
// records such as a stat result.
type KeyValue [][2]string

// PrintKeyValue writes pairs as "key: value" lines with aligned values.
func PrintKeyValue(w io.Writer, pairs KeyValue) error {
	tw := newWriter(w)
	for _, pair := range pairs {
		tw.Append([]string{pair[0] + ":", pair[1]})
	}
	tw.Render()
	return nil
}

// newWriter returns a borderless writer separating columns by two spaces.
func newWriter(w io.Writer) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	return tw
}
