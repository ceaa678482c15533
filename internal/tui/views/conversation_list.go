package views

import (
	"fmt"
	"time"

	"github.com/petadopt/petchat/internal/wire"
	"github.com/rivo/tview"
)

// ConversationList is the inbox table, most recently active first.
type ConversationList struct {
	*tview.Table
	conversations []wire.Conversation
	now           func() time.Time
}

// NewConversationList creates the inbox table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table, now: time.Now}
}

// Update redraws the table, keeping the selected conversation selected when
// it is still listed.
func (cl *ConversationList) Update(convs []wire.Conversation) {
	selected := cl.SelectedConversation()
	cl.conversations = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	row := 1
	for i, conv := range convs {
		name := displayName(conv.OtherParticipant)
		if conv.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, conv.UnreadCount)
		}
		preview, at := "", conv.UpdatedAt
		if conv.LastMessage != nil {
			preview = truncate(sanitizeForTerminal(conv.LastMessage.Text), 60)
			at = conv.LastMessage.CreatedAt
		}

		cl.SetCell(i+1, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(i+1, 1, tview.NewTableCell(" "+tview.Escape(preview)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(i+1, 2, tview.NewTableCell(" "+formatTimestamp(at, cl.now())).SetMaxWidth(12))
		if conv.ID == selected {
			row = i + 1
		}
	}
	if len(convs) > 0 {
		cl.Select(row, 0)
	}
}

// SelectedConversation returns the id of the selected row, or "".
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.conversations) {
		return cl.conversations[idx].ID
	}
	return ""
}

func displayName(p wire.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return "Unknown user"
}

func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
