// Package router decides where an utterance goes: answered locally,
// forwarded to a remote agent, or handed to the language model. The
// decision is a closed tagged variant consumed by a switch in the
// pipeline, never string-keyed dispatch.
package router

import (
	"regexp"
	"strings"
)

// Target is the closed set of routing destinations.
type Target string

const (
	// TargetLocal answers deterministically without any collaborator.
	TargetLocal Target = "local"
	// TargetAgent forwards to a remote agent through the gateway.
	TargetAgent Target = "agent"
	// TargetModel generates a response with the language model.
	TargetModel Target = "model"
)

// Decision is the routing outcome for one utterance.
type Decision struct {
	Target     Target
	Agent      string // agent name when Target == TargetAgent
	Intent     string // matched intent, when any
	Confidence float64
}

// intentDef is one regex-matched intent and its destination.
type intentDef struct {
	name       string
	target     Target
	agent      string
	confidence float64
	patterns   []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Router matches utterances against a fixed intent table.
type Router struct {
	intents []intentDef
	agents  map[string]bool
}

// New creates a Router. Only agents in available may be chosen as
// targets; intents bound to a missing agent fall through to the model.
func New(available []string) *Router {
	agents := make(map[string]bool, len(available))
	for _, a := range available {
		agents[a] = true
	}

	return &Router{
		agents: agents,
		intents: []intentDef{
			{
				name: "learning", target: TargetAgent, agent: "sensei", confidence: 0.95,
				patterns: compile(
					`^panda,?\s*learn\b`,
				),
			},
			{
				name: "news", target: TargetAgent, agent: "scott", confidence: 0.9,
				patterns: compile(
					`\bnews\b`,
					`\bheadlines?\b`,
					`\bwhat'?s happening\b`,
					`\bcurrent events?\b`,
					`\btop stories\b`,
					`\bbreaking\b`,
					`\blatest\b.*\b(?:news|stories|events)\b`,
				),
			},
			{
				name: "finance", target: TargetAgent, agent: "penny", confidence: 0.7,
				patterns: compile(
					`\bstocks?\b`,
					`\bshare price\b`,
					`\bmarkets?\b`,
					`\bportfolio\b`,
					`\bcrypto\b`,
					`\bbitcoin\b`,
				),
			},
			{
				name: "time", target: TargetLocal, confidence: 0.9,
				patterns: compile(
					`\bwhat time\b`,
					`\bcurrent time\b`,
					`\bwhat'?s the time\b`,
				),
			},
			{
				name: "identity", target: TargetLocal, confidence: 0.9,
				patterns: compile(
					`\bwho are you\b`,
					`\byour name\b`,
					`\bwhat are you\b`,
				),
			},
		},
	}
}

// commandPrefixes maps explicit slash commands to decisions.
var commandPrefixes = []struct {
	prefix string
	target Target
	agent  string
}{
	{"/news ", TargetAgent, "scott"},
	{"/finance ", TargetAgent, "penny"},
	{"/learn ", TargetAgent, "sensei"},
	{"/echo ", TargetAgent, "echo"},
	{"/local ", TargetModel, ""},
}

// Route decides the destination for an utterance.
func (r *Router) Route(utterance string) Decision {
	trimmed := strings.TrimSpace(utterance)

	for _, cmd := range commandPrefixes {
		if strings.HasPrefix(trimmed, cmd.prefix) {
			if cmd.target == TargetAgent && !r.agents[cmd.agent] {
				break
			}
			return Decision{Target: cmd.target, Agent: cmd.agent, Intent: "command", Confidence: 1.0}
		}
	}

	for _, intent := range r.intents {
		if intent.target == TargetAgent && !r.agents[intent.agent] {
			continue
		}
		for _, p := range intent.patterns {
			if p.MatchString(trimmed) {
				return Decision{
					Target:     intent.target,
					Agent:      intent.agent,
					Intent:     intent.name,
					Confidence: intent.confidence,
				}
			}
		}
	}

	return Decision{Target: TargetModel, Confidence: 0.5}
}

// StripCommand removes a recognized slash command prefix so downstream
// stages see only the utterance body.
func StripCommand(utterance string) string {
	trimmed := strings.TrimSpace(utterance)
	for _, cmd := range commandPrefixes {
		if strings.HasPrefix(trimmed, cmd.prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, cmd.prefix))
		}
	}
	return trimmed
}
