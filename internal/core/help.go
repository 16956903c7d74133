package core

import (
	"sort"
	"strings"
)

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	seen := map[string]*Command{}
	for _, c := range m.cmds {
		seen[c.Name] = c
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, n := range names {
		c := seen[n]
		b.WriteString("/")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		if c.Access == AccessAdminOnly {
			b.WriteString(" (admin)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
