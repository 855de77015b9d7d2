package domain

import "strings"

type SessionID string

// Speaker identifies who authored a message in the transcript.
type Speaker string

const (
	SpeakerClient    Speaker = "Client"
	SpeakerCounselor Speaker = "Counselor"
)

func (s Speaker) Valid() bool {
	return s == SpeakerClient || s == SpeakerCounselor
}

// Technique is a therapeutic intervention style from the fixed taxonomy.
// The zero value is not a technique.
type Technique int

const (
	TechniqueUnknown Technique = iota
	TechniqueReflection
	TechniqueQuestioning
	TechniqueProvidingSolutions
	TechniqueNormalization
	TechniquePsychoEducation
)

// AllTechniques lists the taxonomy in its declared order. The order breaks
// score ties when picking the best technique.
var AllTechniques = []Technique{
	TechniqueReflection,
	TechniqueQuestioning,
	TechniqueProvidingSolutions,
	TechniqueNormalization,
	TechniquePsychoEducation,
}

var techniqueNames = map[Technique]string{
	TechniqueReflection:         "Reflection",
	TechniqueQuestioning:        "Questioning",
	TechniqueProvidingSolutions: "Providing solutions",
	TechniqueNormalization:      "Normalization",
	TechniquePsychoEducation:    "Psycho-education",
}

var techniqueIdents = map[Technique]string{
	TechniqueReflection:         "Reflection",
	TechniqueQuestioning:        "Questioning",
	TechniqueProvidingSolutions: "ProvidingSolutions",
	TechniqueNormalization:      "Normalization",
	TechniquePsychoEducation:    "PsychoEducation",
}

// String returns the display name used in prompts and snapshots.
func (t Technique) String() string {
	if n, ok := techniqueNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Ident returns the identifier spelling (no spaces or dashes).
func (t Technique) Ident() string {
	if n, ok := techniqueIdents[t]; ok {
		return n
	}
	return "Unknown"
}

// Aliases returns every exact spelling accepted for t.
func (t Technique) Aliases() []string {
	name, ident := t.String(), t.Ident()
	if name == ident {
		return []string{name}
	}
	return []string{name, ident}
}

// Order is the position of t in the declared taxonomy, or -1.
func (t Technique) Order() int {
	for i, tt := range AllTechniques {
		if tt == t {
			return i
		}
	}
	return -1
}

// ParseTechnique accepts only exact taxonomy spellings (display name or
// identifier). Surrounding whitespace is ignored, case is not.
func ParseTechnique(s string) (Technique, bool) {
	s = strings.TrimSpace(s)
	for _, t := range AllTechniques {
		for _, alias := range t.Aliases() {
			if s == alias {
				return t, true
			}
		}
	}
	return TechniqueUnknown, false
}

// TechniqueScore is a technique with the selector's confidence in [0,1].
type TechniqueScore struct {
	Technique Technique
	Score     float64
}
