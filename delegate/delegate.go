package delegate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agora-ai/agora/core"
	"github.com/agora-ai/agora/internal/util"
	"github.com/agora-ai/agora/logging"
	"github.com/agora-ai/agora/oracle"
)

// Assignment is one delegated task, resolved against the roster.
type Assignment struct {
	// AgentID is the session agent executing the task.
	AgentID string

	// Persona is the full persona the task runs under.
	Persona core.AgentPersona

	// Task is the instruction text for this agent.
	Task string
}

// Outcome is the tagged result of a delegation attempt. Either Plan
// holds the parsed assignments, or ParseFailure is set and Raw carries
// the unparseable oracle output. A zero-assignment outcome means the
// caller should fall back to single-agent mode.
type Outcome struct {
	Reasoning    string
	Plan         []Assignment
	ParseFailure bool
	Raw          string
}

// Empty reports whether the outcome carries no assignments.
func (o Outcome) Empty() bool { return len(o.Plan) == 0 }

const instructionTemplate = `You are coordinating a team of agents. Split the user's request into tasks and assign each to the most suitable agent.

Available agents:
{{.Roster}}

User request:
{{.UserText}}

Respond with JSON only, in exactly this shape:
{"reasoning": "<why this split>", "assignments": [{"persona_id": "<id>", "task": "<instruction for that agent>"}]}

Only use persona_id values from the list above. Assign between one and {{.Max}} tasks.`

type wirePlan struct {
	Reasoning   string `json:"reasoning"`
	Assignments []struct {
		PersonaID string `json:"persona_id"`
		Task      string `json:"task"`
	} `json:"assignments"`
}

// Options configures the delegation engine.
type Options struct {
	Logger logging.Logger
}

// Engine plans multi-agent work by prompting a coordinating persona.
type Engine struct {
	oracle oracle.Oracle
	logger logging.Logger
}

// NewEngine creates a delegation engine.
func NewEngine(o oracle.Oracle, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{oracle: o, logger: opts.Logger}
}

// Delegate issues one oracle call against the coordinating persona and
// parses the structured plan. It never returns an error: an oracle
// failure or unparseable output yields an Outcome tagged ParseFailure,
// and assignments referencing personas outside the roster are dropped.
// The coordinating persona is the roster's manager, or its first entry
// when no manager exists.
func (e *Engine) Delegate(ctx context.Context, userText string, roster core.Roster) Outcome {
	if len(roster) == 0 {
		return Outcome{}
	}

	coordinator := roster[0]
	if mgr, ok := roster.Manager(); ok {
		coordinator = mgr
	}

	instruction, err := util.RenderTemplate(instructionTemplate, map[string]any{
		"Roster":   renderRoster(roster),
		"UserText": userText,
		"Max":      len(roster),
	})
	if err != nil {
		e.logger.Error("render delegation instruction", "error", err)
		return Outcome{ParseFailure: true}
	}

	raw, err := e.oracle.Generate(ctx, coordinator.Persona, instruction)
	if err != nil {
		e.logger.Warn("delegation oracle call failed", "persona_id", coordinator.Persona.ID, "error", err)
		return Outcome{ParseFailure: true}
	}

	var wire wirePlan
	if err := json.Unmarshal([]byte(stripFences(raw)), &wire); err != nil {
		e.logger.Warn("delegation plan unparseable", "error", err)
		return Outcome{ParseFailure: true, Raw: raw}
	}

	outcome := Outcome{Reasoning: wire.Reasoning, Raw: raw}

	for _, a := range wire.Assignments {
		entry, ok := roster.FindPersona(a.PersonaID)
		if !ok || strings.TrimSpace(a.Task) == "" {
			e.logger.Debug("dropping assignment", "persona_id", a.PersonaID)
			continue
		}

		outcome.Plan = append(outcome.Plan, Assignment{
			AgentID: entry.Agent.ID,
			Persona: entry.Persona,
			Task:    a.Task,
		})
	}

	return outcome
}

func renderRoster(roster core.Roster) string {
	var b strings.Builder

	for _, entry := range roster {
		b.WriteString("- ")
		b.WriteString(entry.Persona.ID)
		b.WriteString(": ")
		b.WriteString(entry.Persona.Name)
		b.WriteString(" (")
		b.WriteString(entry.Persona.Role)
		b.WriteString(")")

		if entry.Agent.IsManager {
			b.WriteString(" [manager]")
		}

		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// stripFences removes a surrounding markdown code fence, with or
// without a language tag, from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. "json".
		if !strings.Contains(s[:idx], "{") {
			s = s[idx+1:]
		}
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
