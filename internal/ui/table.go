package ui

import (
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/types"
)

// MaxTitleWidth truncates titles in tables.
const MaxTitleWidth = 60

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = false
	style.Options.SeparateHeader = true
	style.Format.Header = text.FormatDefault
	if !ShouldUseColor() {
		style.Box = table.StyleBoxDefault
	}
	tw.SetStyle(style)
	return tw
}

// RenderItems writes a table of work items.
func RenderItems(w io.Writer, items []*types.WorkItem) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"", "ID", "Pri", "Kind", "Status", "Assignee", "Title"})
	for _, it := range items {
		tw.AppendRow(table.Row{
			RenderStatusIcon(it.Status),
			RenderID(it.ID),
			RenderPriority(it.Priority),
			string(it.Kind),
			RenderStatus(it.Status),
			it.Assignee,
			TruncateSimple(it.Title, MaxTitleWidth),
		})
	}
	tw.Render()
}

// RenderBlocked writes a table of blocked items and what blocks them.
func RenderBlocked(w io.Writer, blocked []*types.BlockedItem) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Pri", "Title", "Blocked by"})
	for _, b := range blocked {
		by := strings.Join(b.BlockedBy, ", ")
		if b.EpicBlocked != "" {
			if by != "" {
				by += ", "
			}
			by += "epic " + b.EpicBlocked
		}
		tw.AppendRow(table.Row{
			RenderID(b.ID),
			RenderPriority(b.Priority),
			TruncateSimple(b.Title, MaxTitleWidth),
			by,
		})
	}
	tw.Render()
}

// RenderSessions writes a table of archived sessions, newest first as given.
func RenderSessions(w io.Writer, sessions []*archive.Session) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Ended", "Phase", "Attempt", "Outcome", "Took", "Summary"})
	for _, s := range sessions {
		tw.AppendRow(table.Row{
			s.EndedAt.Local().Format(time.DateTime),
			s.Phase,
			s.Attempt,
			renderOutcome(s.Outcome),
			s.Duration().Round(time.Second).String(),
			TruncateSimple(firstLine(s.Summary+" "+s.Reason), MaxTitleWidth),
		})
	}
	tw.Render()
}

// RenderStatistics writes a two-column summary.
func RenderStatistics(w io.Writer, st *types.Statistics) {
	tw := newTable(w)
	tw.AppendRows([]table.Row{
		{"Total", st.TotalItems},
		{"Open", st.OpenItems},
		{"In progress", st.InProgressItems},
		{"Blocked", st.BlockedItems},
		{"Closed", st.ClosedItems},
		{"Ready", st.ReadyItems},
		{"Epics", st.Epics},
		{"Dependencies", st.Dependencies},
	})
	tw.Render()
}

func renderOutcome(o archive.Outcome) string {
	switch o {
	case archive.OutcomeApproved:
		return RenderPass(string(o))
	case archive.OutcomeRejected:
		return RenderWarn(string(o))
	case archive.OutcomeFailed, archive.OutcomeReturned:
		return RenderFail(string(o))
	default:
		return string(o)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
