package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/petadopt/petchat/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar shows the instance, the signed-in user, the realtime connection
// state and the current flash notice.
type StatusBar struct {
	*tview.TextView
	instance  string
	user      string
	connected bool
	hints     []string
	flash     string
	level     model.FlashLevel
	now       func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, now: time.Now}
}

func (sb *StatusBar) SetInstance(name string) {
	sb.instance = name
	sb.render()
}

func (sb *StatusBar) SetUser(userID string) {
	sb.user = userID
	sb.render()
}

// SetConnected updates the realtime indicator.
func (sb *StatusBar) SetConnected(connected bool) {
	sb.connected = connected
	sb.render()
}

func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.flash = msg
	sb.level = level
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	conn := "[red]offline[-]"
	if sb.connected {
		conn = "[green]live[-]"
	}
	user := sb.user
	if user == "" {
		user = "-"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s | %s",
		tview.Escape(sb.instance), tview.Escape(user), conn, sb.now().Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | [::d]" + tview.Escape(strings.Join(sb.hints, " ")) + "[-:-:-]"
	}
	if sb.flash != "" {
		color := "yellow"
		if sb.level == model.FlashError {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}
	return line
}
