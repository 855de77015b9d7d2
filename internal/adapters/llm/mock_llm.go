package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// MockFunc answers one generator call.
type MockFunc func(ctx context.Context, system, user string) (string, error)

// MockCall records a call made to the mock.
type MockCall struct {
	Stage  domain.Stage
	System string
	User   string
}

// MockGenerator answers by pipeline stage. Without scripts it follows
// simple keyword rules so the service runs end to end offline.
type MockGenerator struct {
	mu      sync.Mutex
	scripts map[domain.Stage]MockFunc
	calls   []MockCall
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{scripts: map[domain.Stage]MockFunc{}}
}

// Script overrides the answer for stage.
func (m *MockGenerator) Script(stage domain.Stage, fn MockFunc) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[stage] = fn
	return m
}

// Reply makes stage always answer text.
func (m *MockGenerator) Reply(stage domain.Stage, text string) *MockGenerator {
	return m.Script(stage, func(context.Context, string, string) (string, error) {
		return text, nil
	})
}

// Fail makes stage always return err.
func (m *MockGenerator) Fail(stage domain.Stage, err error) *MockGenerator {
	return m.Script(stage, func(context.Context, string, string) (string, error) {
		return "", err
	})
}

// Calls returns the recorded calls for stage, or all calls when stage is "".
func (m *MockGenerator) Calls(stage domain.Stage) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MockCall
	for _, c := range m.calls {
		if stage == "" || c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	stage := domain.StageFromContext(ctx)

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Stage: stage, System: system, User: user})
	fn := m.scripts[stage]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, user)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return defaultMockReply(stage, user), nil
}

var (
	mockCrisisWords   = []string{"kill myself", "suicide", "end my life", "hurt myself", "want to die"}
	mockOffTopicWords = []string{"bitcoin", "stock price", "recipe", "football", "weather"}
)

func defaultMockReply(stage domain.Stage, user string) string {
	lower := strings.ToLower(user)

	switch stage {
	case domain.StageCrisis:
		// Only the latest message counts, not the transcript above it.
		latest := lower
		if _, after, ok := strings.Cut(lower, "latest client message:"); ok {
			latest = after
		}
		if containsAny(latest, mockCrisisWords) {
			b, _ := json.Marshal(map[string]any{
				"flags":    []string{"Direct Suicidal Statement"},
				"response": "I'm really concerned about your safety. Please contact your local emergency number or a crisis line right now; you don't have to go through this alone.",
			})
			return string(b)
		}
		return "NO_CRISIS"

	case domain.StageRelevance:
		if containsAny(lower, mockOffTopicWords) {
			return "That's outside what I can help with here. I'd like to hear how you've been feeling lately, though."
		}
		return "RELEVANT"

	case domain.StageAgenda:
		return "Session focus: understanding current stressors\n- Explore what has been hardest this week\n- Identify one coping step\nGoals: name the main stressor, try one small change\nPriorities: wellbeing, sleep"

	case domain.StagePlan:
		return "Use cognitive restructuring to examine unhelpful thoughts, combined with small behavioural experiments between sessions."

	case domain.StageSelect:
		if strings.Contains(lower, "?") {
			return `[{"technique": "Questioning", "score": 0.8}, {"technique": "Reflection", "score": 0.6}]`
		}
		return `[{"technique": "Reflection", "score": 0.85}, {"technique": "Normalization", "score": 0.6}]`

	case domain.StageQueries:
		return `{"queries": ["cognitive distortions", "stress response"]}`

	case domain.StageSynthesize:
		if _, after, ok := strings.Cut(user, "Draft reply:"); ok {
			draft, _, _ := strings.Cut(after, "Return only")
			if d := strings.TrimSpace(draft); d != "" {
				return d
			}
		}
		return "Thank you for sharing that with me."

	case domain.StageRespond:
		return "It sounds like a lot has been weighing on you. What feels hardest about it right now?"
	}

	return "I'm here and listening."
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
