package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/petadopt/petchat/internal/outbox"
	"github.com/petadopt/petchat/internal/wire"
	"github.com/rivo/tview"
)

// MessageView is the open thread: stored messages oldest first, then the
// outbox entries still waiting for the server.
type MessageView struct {
	*tview.Table
	messages []wire.Message
	now      func() time.Time
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Messages ")
	return &MessageView{Table: table, now: time.Now}
}

// SetConversationName updates the title with the other participant's name.
func (mv *MessageView) SetConversationName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// Update redraws the thread. userID identifies the local user's messages.
func (mv *MessageView) Update(msgs []wire.Message, pending []outbox.Entry, userID string) {
	mv.messages = msgs
	mv.Clear()
	now := mv.now()

	row := 0
	for _, m := range msgs {
		sender := displayName(m.Sender)
		state := ""
		if m.Sender.ID == userID {
			sender = "You"
			state = "sent"
			if m.Read {
				state = "read"
			}
		}
		mv.setRow(row, sender, m.Text, formatTimestamp(m.CreatedAt, now), state, tview.Styles.PrimaryTextColor)
		row++
	}
	for _, e := range pending {
		if e.Status == outbox.StatusSent {
			continue
		}
		state, color := "sending", tview.Styles.TertiaryTextColor
		if e.Status == outbox.StatusFailed {
			state, color = "failed (r to retry)", tcell.ColorOrangeRed
		}
		mv.setRow(row, "You", e.Text, formatTimestamp(e.QueuedAt, now), state, color)
		row++
	}

	if row > 0 {
		mv.Select(row-1, 0)
	}
	mv.ScrollToEnd()
}

func (mv *MessageView) setRow(row int, sender, text, ts, state string, color tcell.Color) {
	mv.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(sender))).
		SetMaxWidth(20).SetAttributes(tcell.AttrBold))
	mv.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(text))).
		SetExpansion(1).SetTextColor(color))
	mv.SetCell(row, 2, tview.NewTableCell(" "+ts).SetAttributes(tcell.AttrDim))
	mv.SetCell(row, 3, tview.NewTableCell(" "+state).SetAttributes(tcell.AttrDim))
}

// SelectedMessage returns the stored message under the cursor. Outbox rows
// are not selectable messages.
func (mv *MessageView) SelectedMessage() (wire.Message, bool) {
	row, _ := mv.GetSelection()
	if row >= 0 && row < len(mv.messages) {
		return mv.messages[row], true
	}
	return wire.Message{}, false
}
