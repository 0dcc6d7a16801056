package agent

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/clario/internal/domain"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Persona is one agent's prompt material.
type Persona struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	System      string            `yaml:"system"`
	Strategies  map[string]string `yaml:"strategies"`
}

// Strategy returns the guidance for key, falling back to "refine".
func (p Persona) Strategy(key string) string {
	if s, ok := p.Strategies[key]; ok {
		return s
	}
	return p.Strategies["refine"]
}

// Catalog holds every persona plus the shared reply format.
type Catalog struct {
	ReplyFormat string             `yaml:"reply_format"`
	Agents      map[string]Persona `yaml:"agents"`
}

// LoadCatalog parses a YAML catalog. Every agent type must be present.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	for _, t := range []domain.AgentType{domain.AgentPromoter, domain.AgentScopePlanner, domain.AgentReviewer, domain.AgentRecorder} {
		p, ok := c.Agents[string(t)]
		if !ok || strings.TrimSpace(p.System) == "" {
			return nil, fmt.Errorf("prompt catalog: missing system prompt for %s", t)
		}
	}
	if strings.TrimSpace(c.ReplyFormat) == "" {
		return nil, fmt.Errorf("prompt catalog: reply_format is empty")
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) persona(t domain.AgentType) Persona {
	return c.Agents[string(t)]
}
