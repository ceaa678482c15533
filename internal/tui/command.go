package tui

import (
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Validate checks the argument count of a known command.
func (c Command) Validate() error {
	switch c.Name {
	case "new", "n":
		if c.Args == "" || strings.ContainsAny(c.Args, " \t") {
			return fmt.Errorf("usage: :new <userId>")
		}
	case "delete", "d", "retry", "r", "discard", "reload", "quit", "q":
		if c.Args != "" {
			return fmt.Errorf(":%s takes no arguments", c.Name)
		}
	default:
		return fmt.Errorf("unknown command %q", c.Name)
	}
	return nil
}
