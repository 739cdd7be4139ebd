// Package prompts embeds the text agentlock hands to Claude Code: the hook
// settings written by `agentlock init` and the coordination notes added to
// the agents' CLAUDE.md.
package prompts

import _ "embed"

//go:embed claude/settings.json.tmpl
var ClaudeSettingsTemplate string

//go:embed claude/coordination.md.tmpl
var CoordinationTemplate string
