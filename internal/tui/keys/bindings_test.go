package keys

import (
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestPageBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.Add(Global, &Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { got = "global" }})
	r.Add("thread", &Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { got = "thread" }})

	if !r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'd', tcell.ModNone)) {
		t.Fatal("HandleEvent() = false, want true")
	}
	if got != "thread" {
		t.Errorf("handler = %q, want thread", got)
	}

	if !r.HandleEvent("list", tcell.NewEventKey(tcell.KeyRune, 'd', tcell.ModNone)) {
		t.Fatal("HandleEvent() on list = false, want global match")
	}
	if got != "global" {
		t.Errorf("handler = %q, want global", got)
	}
}

func TestHandleEventNoMatch(t *testing.T) {
	r := NewRegistry()
	r.Add(Global, &Action{Key: tcell.KeyCtrlC, Handler: func() {}})
	if r.HandleEvent("list", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("HandleEvent() = true for unbound key")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(Global, &Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true})
	r.Add("list", &Action{Key: tcell.KeyRune, Rune: 'n', Description: "n:new", Visible: true})
	r.Add("list", &Action{Key: tcell.KeyRune, Rune: 'x', Description: "hidden"})
	r.Add("list", &Action{Key: tcell.KeyRune, Rune: 'd', Description: "d:delete", Visible: true})

	want := []string{"n:new", "d:delete", "q:quit"}
	if got := r.Hints("list"); !slices.Equal(got, want) {
		t.Errorf("Hints() = %v, want %v", got, want)
	}
}
