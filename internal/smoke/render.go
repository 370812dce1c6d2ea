package smoke

import (
	"fmt"
	"io"
	"strings"

	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

// renderRows prints an Athena result set as a box-drawn table. The
// first row is the header.
func renderRows(w io.Writer, rows []athenatypes.Row) {
	if len(rows) == 0 {
		return
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row.Data))
		for j, datum := range row.Data {
			if datum.VarCharValue != nil {
				cells[i][j] = *datum.VarCharValue
			} else {
				cells[i][j] = "NULL"
			}
		}
	}

	widths := make([]int, len(cells[0]))
	for _, row := range cells {
		for j, cell := range row {
			if j < len(widths) && len(cell) > widths[j] {
				widths[j] = len(cell)
			}
		}
	}

	fmt.Fprintln(w, "\nQuery Results:")
	fmt.Fprintln(w, rule(widths, "┌", "┬", "┐"))
	fmt.Fprintln(w, line(cells[0], widths))
	fmt.Fprintln(w, rule(widths, "├", "┼", "┤"))
	for _, row := range cells[1:] {
		fmt.Fprintln(w, line(row, widths))
	}
	fmt.Fprintln(w, rule(widths, "└", "┴", "┘"))
}

func rule(widths []int, left, mid, right string) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width+2)
	}
	return left + strings.Join(parts, mid) + right
}

func line(row []string, widths []int) string {
	parts := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		parts[i] = fmt.Sprintf(" %-*s ", widths[i], cell)
	}
	return "│" + strings.Join(parts, "│") + "│"
}
