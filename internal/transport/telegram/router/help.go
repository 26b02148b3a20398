package router

import (
	"html"
	"strings"
)

// HelpText renders help in HTML parse mode. With no args it lists every
// visible command; with a command word it shows that command's details.
func (m *CommandManager) HelpText(args []string) string {
	if len(args) > 0 {
		word := commandWord(args[0])
		c, ok := m.lookup(word)
		if !ok {
			return "unknown command <code>/" + html.EscapeString(word) + "</code>. try <code>/help</code>"
		}
		return helpCommandHTML(c)
	}

	m.mu.RLock()
	cmds := m.cmds
	m.mu.RUnlock()

	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		line := "<b>/" + html.EscapeString(c.Name) + "</b>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "<code>/"+html.EscapeString(a)+"</code>")
		}
		lines = append(lines, "", "<b>Shortcut</b> "+strings.Join(al, " "))
	}
	return strings.Join(lines, "\n")
}
