package agents

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// Persona is the data that shapes one party of a dialogue. The same
// DialogueAgent speaks for any persona; nothing is subclassed per role.
type Persona struct {
	Role   session.Role `json:"role" yaml:"role" validate:"required,oneof=student counselor"`
	Name   string       `json:"name" yaml:"name" validate:"required"`
	Gender string       `json:"gender,omitempty" yaml:"gender"`
	Age    int          `json:"age,omitempty" yaml:"age" validate:"gte=0,lte=120"`
	Grade  string       `json:"grade,omitempty" yaml:"grade"`
	Major  string       `json:"major,omitempty" yaml:"major"`

	// Student fields.
	Issue          string         `json:"issue,omitempty" yaml:"issue"`
	Traits         []string       `json:"traits,omitempty" yaml:"traits"`
	InitialEmotion affect.Emotion `json:"initial_emotion,omitempty" yaml:"initial_emotion"`
	Opening        string         `json:"opening,omitempty" yaml:"opening"`

	// Counselor fields.
	Approach   string   `json:"approach,omitempty" yaml:"approach"`
	Techniques []string `json:"techniques,omitempty" yaml:"techniques"`

	Background   string `json:"background,omitempty" yaml:"background"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions"`
}

var personaValidator = validator.New()

// Validate checks the persona's required fields.
func (p Persona) Validate() error {
	if err := personaValidator.Struct(p); err != nil {
		return fmt.Errorf("persona %q: %w", p.Name, err)
	}
	if p.InitialEmotion != "" && !p.InitialEmotion.IsValid() {
		return fmt.Errorf("persona %q: unknown initial emotion %q", p.Name, p.InitialEmotion)
	}
	return nil
}

// AffectSeed returns the affect initialization input for a student persona.
func (p Persona) AffectSeed() affect.Seed {
	return affect.Seed{Issue: p.Issue, Traits: p.Traits, Emotion: p.InitialEmotion}
}

// Summary is a one-line description used in prompts.
func (p Persona) Summary() string {
	var parts []string
	if p.Gender != "" {
		parts = append(parts, "性别："+p.Gender)
	}
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("年龄：%d", p.Age))
	}
	if p.Grade != "" {
		parts = append(parts, "年级："+p.Grade)
	}
	if p.Major != "" {
		parts = append(parts, "专业："+p.Major)
	}
	return strings.Join(parts, "，")
}
