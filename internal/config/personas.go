package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/keshon/companion/internal/affect"
	"gopkg.in/yaml.v3"
)

// Persona describes one agent.
type Persona struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name"`
	TokenEnv        string     `yaml:"token_env"`
	Prompt          string     `yaml:"prompt"`
	Baseline        affect.PAD `yaml:"baseline"`
	BaselineEmotion string     `yaml:"baseline_emotion"`
	Interests       []string   `yaml:"interests"`
	Admins          []string   `yaml:"admins"`
	Channels        []string   `yaml:"channels"`
}

// Token returns the bot token from the environment variable named by TokenEnv.
func (p Persona) Token() string {
	name := p.TokenEnv
	if name == "" {
		name = "DISCORD_TOKEN"
	}
	return os.Getenv(name)
}

// AllowsChannel reports whether the agent may speak in channelID. An empty list allows all.
func (p Persona) AllowsChannel(channelID string) bool {
	if len(p.Channels) == 0 {
		return true
	}
	for _, c := range p.Channels {
		if c == channelID {
			return true
		}
	}
	return false
}

func (p Persona) InterestText() string {
	return strings.Join(p.Interests, ", ")
}

// Personas is an immutable set of personas loaded at startup.
type Personas struct {
	list []Persona
	byID map[string]Persona
}

type personasFile struct {
	Agents []Persona `yaml:"agents"`
}

// ParsePersonas decodes the YAML document. Ids must be unique and non-empty;
// a named baseline emotion replaces an unset baseline vector.
func ParsePersonas(data []byte) (*Personas, error) {
	var f personasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	ps := &Personas{byID: make(map[string]Persona, len(f.Agents))}
	for i, p := range f.Agents {
		if p.ID == "" {
			return nil, fmt.Errorf("persona %d: missing id", i)
		}
		if _, dup := ps.byID[p.ID]; dup {
			return nil, fmt.Errorf("persona %s: duplicate id", p.ID)
		}
		if p.BaselineEmotion != "" && p.Baseline == (affect.PAD{}) {
			c, err := affect.ParseCategory(p.BaselineEmotion)
			if err != nil {
				return nil, fmt.Errorf("persona %s: %w", p.ID, err)
			}
			p.Baseline = c.Vector()
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		ps.list = append(ps.list, p)
		ps.byID[p.ID] = p
	}
	return ps, nil
}

func LoadPersonas(path string) (*Personas, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas: %w", err)
	}
	return ParsePersonas(data)
}

func (ps *Personas) Get(id string) (Persona, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

func (ps *Personas) All() []Persona {
	return append([]Persona(nil), ps.list...)
}

// Baseline returns the baseline mood of id, neutral when unknown.
func (ps *Personas) Baseline(id string) affect.PAD {
	return ps.byID[id].Baseline
}
