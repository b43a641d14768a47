package router

import (
	"strings"

	kit "chatwarden/internal/transport"
)

func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		lines := []string{"📚 *Commands* (use /help <cmd> ...):"}
		for _, n := range root.children() {
			suffix := ""
			if len(n.subs) > 0 {
				suffix = " …"
			}
			line := "- /" + n.name + suffix
			if n.cmd != nil && n.cmd.Description != "" {
				line += ": " + n.cmd.Description
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}

	n := root.lookup(path)
	if n == nil {
		if len(path) == 1 {
			if leaf, ok := alias[path[0]]; ok && leaf.cmd != nil {
				return r.helpText(splitRoute(leaf.cmd.Route))
			}
		}
		return "command not found. try /help"
	}

	var lines []string
	if c := n.cmd; c != nil {
		lines = append(lines, "📌 */"+strings.Join(path, " ")+"*")
		if c.Description != "" {
			lines = append(lines, c.Description)
		}
		if c.Usage != "" {
			lines = append(lines, "Usage: `"+c.Usage+"`")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(c.Aliases, ", /"))
		}
		switch c.Access {
		case AccessAdmin:
			lines = append(lines, "Admins only.")
		case AccessOwnerOnly:
			lines = append(lines, "Bot owners only.")
		}
	} else {
		lines = append(lines, "📚 */"+strings.Join(path, " ")+"* subcommands:")
	}
	for _, cn := range n.children() {
		line := "- /" + strings.Join(path, " ") + " " + cn.name
		if cn.cmd != nil && cn.cmd.Description != "" {
			line += ": " + cn.cmd.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// MenuCommands lists top-level commands with a description for the
// platform command menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	root := r.root
	r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(root.subs))
	for _, n := range root.children() {
		if n.cmd == nil || n.cmd.Description == "" || n.cmd.Hidden {
			continue
		}
		out = append(out, kit.BotCommand{Command: n.name, Description: n.cmd.Description})
	}
	return out
}
