package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func allAgents() []string { return []string{"scott", "penny", "sensei", "echo"} }

func TestRoute(t *testing.T) {
	r := New(allAgents())

	tests := []struct {
		name      string
		utterance string
		target    Target
		agent     string
	}{
		{"news keyword", "what's in the news today", TargetAgent, "scott"},
		{"headlines", "give me the top headlines", TargetAgent, "scott"},
		{"finance", "how are my stocks doing", TargetAgent, "penny"},
		{"learning", "panda learn about quantum computing", TargetAgent, "sensei"},
		{"time", "what time is it", TargetLocal, ""},
		{"identity", "who are you", TargetLocal, ""},
		{"general", "tell me a story about a dragon", TargetModel, ""},
		{"empty-ish", "   hmm   ", TargetModel, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Route(tt.utterance)
			assert.Equal(t, tt.target, d.Target)
			assert.Equal(t, tt.agent, d.Agent)
		})
	}
}

func TestRouteCommands(t *testing.T) {
	r := New(allAgents())

	d := r.Route("/news tech layoffs")
	assert.Equal(t, TargetAgent, d.Target)
	assert.Equal(t, "scott", d.Agent)
	assert.Equal(t, 1.0, d.Confidence)

	d = r.Route("/local write a haiku")
	assert.Equal(t, TargetModel, d.Target)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestRouteMissingAgentFallsThrough(t *testing.T) {
	r := New(nil) // no agents registered

	d := r.Route("what's in the news today")
	assert.Equal(t, TargetModel, d.Target, "news must fall back to the model when scott is absent")
}

func TestStripCommand(t *testing.T) {
	assert.Equal(t, "tech layoffs", StripCommand("/news tech layoffs"))
	assert.Equal(t, "hello there", StripCommand("hello there"))
}

func TestLocalAnswer(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 4, 0, 0, time.UTC)

	answer, ok := LocalAnswer("time", now)
	assert.True(t, ok)
	assert.Contains(t, answer, "3:04 PM")

	answer, ok = LocalAnswer("identity", now)
	assert.True(t, ok)
	assert.NotEmpty(t, answer)

	_, ok = LocalAnswer("weather", now)
	assert.False(t, ok)
}
