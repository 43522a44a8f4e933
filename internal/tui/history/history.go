package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"shapebench/internal/storage"
	"shapebench/internal/tui/result"
	"shapebench/internal/tui/styles"
)

// Model renders stored runs as tables.
type Model struct {
	Items []storage.HistoryItem
	Table table.Model
}

func NewModel(items []storage.HistoryItem) Model {
	columns := []table.Column{
		{Title: "ID", Width: 36},
		{Title: "Time", Width: 20},
		{Title: "Host", Width: 16},
		{Title: "Trials", Width: 7},
		{Title: "Mean CPU %", Width: 11},
		{Title: "Peak CPU %", Width: 11},
		{Title: "Total", Width: 10},
	}

	rows := make([]table.Row, len(items))
	for i, item := range items {
		rows[i] = table.Row{
			item.ID,
			item.Timestamp.Format(time.RFC822),
			item.Host,
			fmt.Sprintf("%d", item.Summary.Trials),
			fmt.Sprintf("%.2f", item.Summary.MeanCPU),
			fmt.Sprintf("%.2f", item.Summary.PeakCPU),
			item.Summary.TotalDuration.Round(time.Second).String(),
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	t.SetStyles(result.TableStyles())
	return Model{Items: items, Table: t}
}

func (m Model) View() string {
	if len(m.Items) == 0 {
		return styles.Subtle.Render("No runs recorded yet.")
	}
	return styles.Box.Render(m.Table.View())
}

// Detail renders one run with its trials.
func Detail(item storage.HistoryItem) string {
	rows := make([]table.Row, len(item.Records))
	for i, rec := range item.Records {
		rows[i] = result.Row(rec)
	}
	t := table.New(
		table.WithColumns(result.Columns()),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	t.SetStyles(result.TableStyles())

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("Run " + item.ID))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Host: %s:%d | Started: %s | Finished: %s\n",
		item.Host, item.Port,
		item.Timestamp.Format(time.RFC822), item.FinishedAt.Format(time.RFC822)))
	s.WriteString(styles.Box.Render(t.View()))
	if len(item.Artifacts) > 0 {
		s.WriteString("\n")
		s.WriteString(styles.Subtle.Render("Artifacts: " + strings.Join(item.Artifacts, ", ")))
	}
	return s.String()
}
