package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptTemplate is a system/user pair rendered with text/template.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	system *template.Template
	user   *template.Template
}

// ResponderPrompts has one entry per technique responder.
type ResponderPrompts struct {
	Reflection      PromptTemplate `yaml:"reflection"`
	Questioning     PromptTemplate `yaml:"questioning"`
	Solution        PromptTemplate `yaml:"solution"`
	Normalizing     PromptTemplate `yaml:"normalizing"`
	Psychoeducation PromptTemplate `yaml:"psychoeducation"`
}

// Prompts is the full catalog. Wording lives in prompts.yaml, not in code.
type Prompts struct {
	Crisis                 PromptTemplate   `yaml:"crisis"`
	Relevance              PromptTemplate   `yaml:"relevance"`
	TechniqueSelection     PromptTemplate   `yaml:"technique_selection"`
	Agenda                 PromptTemplate   `yaml:"agenda"`
	CBTPlan                PromptTemplate   `yaml:"cbt_plan"`
	Responders             ResponderPrompts `yaml:"responders"`
	PsychoeducationQueries PromptTemplate   `yaml:"psychoeducation_queries"`
	Synthesis              PromptTemplate   `yaml:"synthesis"`
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// LoadPrompts parses the catalog at path, or the embedded one when path is
// empty, and compiles every template.
func LoadPrompts(path string) (*Prompts, error) {
	data := defaultPromptsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file %s: %w", path, err)
		}
		data = b
	}

	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Prompts) compile() error {
	entries := map[string]*PromptTemplate{
		"crisis":                     &p.Crisis,
		"relevance":                  &p.Relevance,
		"technique_selection":        &p.TechniqueSelection,
		"agenda":                     &p.Agenda,
		"cbt_plan":                   &p.CBTPlan,
		"responders.reflection":      &p.Responders.Reflection,
		"responders.questioning":     &p.Responders.Questioning,
		"responders.solution":        &p.Responders.Solution,
		"responders.normalizing":     &p.Responders.Normalizing,
		"responders.psychoeducation": &p.Responders.Psychoeducation,
		"psychoeducation_queries":    &p.PsychoeducationQueries,
		"synthesis":                  &p.Synthesis,
	}
	for name, pt := range entries {
		if strings.TrimSpace(pt.System) == "" {
			return fmt.Errorf("prompt %s: system template is empty", name)
		}
		var err error
		if pt.system, err = parse(name+".system", pt.System); err != nil {
			return err
		}
		if pt.user, err = parse(name+".user", pt.User); err != nil {
			return err
		}
	}
	return nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(promptFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", name, err)
	}
	return t, nil
}

// Render executes both templates against data.
func (pt *PromptTemplate) Render(data map[string]any) (system, user string, err error) {
	if pt.system == nil || pt.user == nil {
		return "", "", fmt.Errorf("prompt template not compiled")
	}
	var sb, ub strings.Builder
	if err := pt.system.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", pt.system.Name(), err)
	}
	if err := pt.user.Execute(&ub, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", pt.user.Name(), err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}
