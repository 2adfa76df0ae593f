package chat

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Persona is the character sheet rendered into the system prompt. All
// fields are free text authored by the operator.
type Persona struct {
	Nickname         string   `yaml:"nickname" json:"nickname"`
	AliasNames       []string `yaml:"alias_names" json:"alias_names"`
	PersonalityCore  string   `yaml:"personality_core" json:"personality_core"`
	PersonalitySide  string   `yaml:"personality_side" json:"personality_side"`
	Identity         string   `yaml:"identity" json:"identity"`
	BackgroundStory  string   `yaml:"background_story" json:"background_story"`
	ReplyStyle       string   `yaml:"reply_style" json:"reply_style"`
	SafetyGuidelines []string `yaml:"safety_guidelines" json:"safety_guidelines"`
}

// DefaultPersona returns a minimal persona used when the operator has
// not provided one.
func DefaultPersona() Persona {
	return Persona{
		Nickname:        "小花",
		PersonalityCore: "温和友善，偶尔有点小脾气",
		Identity:        "一个喜欢聊天的普通人",
		ReplyStyle:      "口语化，简短自然",
	}
}

// Aliases joins the alias names with 、for prompt rendering.
func (p Persona) Aliases() string {
	return strings.Join(p.AliasNames, "、")
}

// LoadPersona reads a persona definition from a YAML file. Missing
// nickname falls back to the default persona's nickname.
func LoadPersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, errors.Wrap(err, "failed to read persona file")
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, errors.Wrap(err, "failed to parse persona file")
	}
	if p.Nickname == "" {
		p.Nickname = DefaultPersona().Nickname
	}
	return p, nil
}
