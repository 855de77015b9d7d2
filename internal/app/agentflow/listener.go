package agentflow

import (
	"context"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// Agenda is the parsed outcome of agenda setting.
type Agenda struct {
	Items      []string
	Focus      string
	Goals      []string
	Priorities []string
	Summary    string
}

// ListenerAgent: listens to the opening message and sets the session agenda.
type ListenerAgent struct {
	llm     domain.Generator
	prompt  *config.PromptTemplate
	timeout time.Duration
}

func NewListenerAgent(llm domain.Generator, cfg *config.Config) *ListenerAgent {
	return &ListenerAgent{
		llm:     llm,
		prompt:  &cfg.Prompts.Agenda,
		timeout: cfg.LLM.CallTimeout,
	}
}

func (a *ListenerAgent) Name() string {
	return "listener"
}

func (a *ListenerAgent) SetAgenda(ctx context.Context, profile domain.ClientProfile, message string) (Agenda, error) {
	reply, err := generate(ctx, domain.StageAgenda, a.llm, a.timeout, a.prompt, map[string]any{
		"ClientContext": profile.Context(),
		"Goal":          orDefault(profile.Goal, "Not specified"),
		"Schedule":      orDefault(profile.ScheduleConstraints, "No specific constraints"),
		"Diagnosis":     profile.Diagnosis,
		"Message":       message,
	})
	if err != nil {
		return Agenda{}, err
	}
	return ParseAgenda(reply), nil
}

// ParseAgenda reads "Session focus:", "Goals:" and "Priorities:" lines and
// "- " or "•" bullets. The whole trimmed reply is kept as the summary.
func ParseAgenda(reply string) Agenda {
	ag := Agenda{Summary: strings.TrimSpace(reply)}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if v, ok := cutLabel(line, "session focus"); ok {
			ag.Focus = v
			continue
		}
		if v, ok := cutLabel(line, "goals"); ok {
			ag.Goals = splitList(v)
			continue
		}
		if v, ok := cutLabel(line, "priorities"); ok {
			ag.Priorities = splitList(v)
			continue
		}
		for _, bullet := range []string{"- ", "• ", "* "} {
			if strings.HasPrefix(line, bullet) {
				if item := strings.TrimSpace(line[len(bullet):]); item != "" {
					ag.Items = append(ag.Items, item)
				}
				break
			}
		}
	}
	return ag
}

// CombinedContext is the agenda block handed to the planner.
func (ag Agenda) CombinedContext(profile domain.ClientProfile) string {
	var parts []string
	if ag.Focus != "" {
		parts = append(parts, "Session Focus: "+ag.Focus)
	}
	if len(ag.Items) > 0 {
		parts = append(parts, "Agenda Items: "+strings.Join(ag.Items, ", "))
	}
	if len(ag.Goals) > 0 {
		parts = append(parts, "Session Goals: "+strings.Join(ag.Goals, ", "))
	}
	if len(ag.Priorities) > 0 {
		parts = append(parts, "Priorities: "+strings.Join(ag.Priorities, ", "))
	}
	parts = append(parts,
		"Client Goal: "+orDefault(profile.Goal, "Not specified"),
		"Diagnosis: "+profile.Diagnosis,
	)
	return strings.Join(parts, " | ")
}

// cutLabel matches "<label>:" case-insensitively, tolerating markdown bold.
func cutLabel(line, label string) (string, bool) {
	clean := strings.TrimLeft(line, "*#- ")
	if len(clean) < len(label)+1 || !strings.EqualFold(clean[:len(label)], label) {
		return "", false
	}
	rest := strings.TrimLeft(clean[len(label):], "* ")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(rest[1:], "* ")), true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
