package keys

import "github.com/gdamore/tcell/v2"

// Global is the scope checked after the current page's own bindings.
const Global = ""

// Action is one key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds bindings per page in registration order, so hints render
// in a stable order and the first match wins.
type Registry struct {
	scopes map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]*Action)}
}

// Add registers a binding for page, or for every page when page is Global.
func (r *Registry) Add(page string, action *Action) {
	r.scopes[page] = append(r.scopes[page], action)
}

// Hints returns the visible descriptions for page, page bindings first.
func (r *Registry) Hints(page string) []string {
	var hints []string
	for _, scope := range r.lookup(page) {
		for _, a := range scope {
			if a.Visible {
				hints = append(hints, a.Description)
			}
		}
	}
	return hints
}

// HandleEvent runs the first binding matching ev on page. Returns true if a
// handler ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, scope := range r.lookup(page) {
		for _, a := range scope {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}

func (r *Registry) lookup(page string) [][]*Action {
	if page == Global {
		return [][]*Action{r.scopes[Global]}
	}
	return [][]*Action{r.scopes[page], r.scopes[Global]}
}
