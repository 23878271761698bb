// Package report renders agreement listings for humans and spreadsheets.
package report

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"combinados/internal/domain"
)

func agreementRow(a domain.Agreement) table.Row {
	return table.Row{a.ID, a.Title, a.Status, a.Priority, a.DueDate, a.CreatorID, strings.Join(a.Tags, ",")}
}

var agreementHeader = table.Row{"ID", "Title", "Status", "Priority", "Due", "Creator", "Tags"}

// RenderTable writes agreements as an aligned terminal table.
func RenderTable(w io.Writer, agreements []domain.Agreement) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(agreementHeader)
	for _, a := range agreements {
		tw.AppendRow(agreementRow(a))
	}
	tw.Render()
}

// RenderCSV writes the same listing as CSV for spreadsheet import.
func RenderCSV(w io.Writer, agreements []domain.Agreement) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(agreementHeader)
	for _, a := range agreements {
		tw.AppendRow(agreementRow(a))
	}
	tw.RenderCSV()
}

// RenderStatusCounts writes agreement counts per lifecycle status.
func RenderStatusCounts(w io.Writer, counts map[string]int) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Status", "Count"})
	for _, status := range []string{
		domain.StatusDraft, domain.StatusPending, domain.StatusInProgress,
		domain.StatusCompleted, domain.StatusOverdue, domain.StatusCancelled,
	} {
		if n, ok := counts[status]; ok {
			tw.AppendRow(table.Row{status, n})
		}
	}
	tw.Render()
}
