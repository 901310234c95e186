package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/postpilot/internal/router"
)

// Role names used by the generation flow.
const (
	RoleResearchAnalyst   = "research_analyst"
	RoleContentStrategist = "content_strategist"
	RoleLinkedInWriter    = "linkedin_writer"
	RoleInterviewScout    = "interview_scout"
)

// Role is the sampling configuration and persona of one writer role.
type Role struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	System      string  `yaml:"system" json:"system"`
}

// RoleTable maps role names to their configuration.
type RoleTable map[string]Role

// DefaultRoles returns the built-in role table.
func DefaultRoles() RoleTable {
	return RoleTable{
		RoleResearchAnalyst: {
			Temperature: 0.3,
			MaxTokens:   1000,
			System: "You are a research analyst for an AI safety research lab. " +
				"Summarize technical work precisely and name the findings that matter for alignment and interpretability.",
		},
		RoleContentStrategist: {
			Temperature: 0.7,
			MaxTokens:   800,
			System: "You are a content strategist for an AI safety research lab. " +
				"Pick the angle that makes technical work relevant to practitioners and policy readers.",
		},
		RoleLinkedInWriter: {
			Temperature: 0.8,
			MaxTokens:   600,
			System: "You write LinkedIn posts for an AI safety research lab. " +
				"Write in a conversational first person voice, open with a question or a surprising fact, " +
				"and avoid filler phrases such as \"game-changer\" or \"let that sink in\".",
		},
		RoleInterviewScout: {
			Temperature: 0.4,
			MaxTokens:   700,
			System: "You identify researchers worth interviewing about AI alignment, " +
				"interpretability and governance, based on their recent work.",
		},
	}
}

// LoadRoles reads a YAML role table from path and overlays it on the
// defaults. An empty path returns the defaults.
func LoadRoles(path string) (RoleTable, error) {
	roles := DefaultRoles()
	if path == "" {
		return roles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read roles file %s", path)
	}
	var overrides RoleTable
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse roles file %s", path)
	}

	for name, o := range overrides {
		base := roles[name]
		if o.Temperature > 0 {
			base.Temperature = o.Temperature
		}
		if o.MaxTokens > 0 {
			base.MaxTokens = o.MaxTokens
		}
		if o.System != "" {
			base.System = o.System
		}
		if base.Temperature < 0 || base.Temperature > 2 {
			return nil, eris.Errorf("pipeline: role %s temperature %.2f outside [0,2]", name, base.Temperature)
		}
		roles[name] = base
	}
	zap.L().Info("pipeline: role overrides loaded",
		zap.String("path", path),
		zap.Strings("roles", overrides.Names()),
	)
	return roles, nil
}

// Names returns the role names in sorted order.
func (t RoleTable) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TextGenerator is one writer role that can produce text for a prompt.
type TextGenerator interface {
	Name() string
	Temperature() float64
	MaxTokens() int
	Generate(ctx context.Context, prompt string) (*router.Response, error)
}

// Completer is the model router as seen by the pipeline.
type Completer interface {
	Complete(ctx context.Context, req router.Request) (*router.Response, error)
}

// Agent is a TextGenerator backed by the model router.
type Agent struct {
	name   string
	role   Role
	router Completer
}

// NewAgent binds the named role from t to c. Unknown names fall back to the
// router's sampling defaults.
func (t RoleTable) NewAgent(name string, c Completer) *Agent {
	return &Agent{name: name, role: t[name], router: c}
}

// Name implements TextGenerator.
func (a *Agent) Name() string { return a.name }

// Temperature implements TextGenerator.
func (a *Agent) Temperature() float64 { return a.role.Temperature }

// MaxTokens implements TextGenerator.
func (a *Agent) MaxTokens() int { return a.role.MaxTokens }

// Generate sends prompt under the role's persona.
func (a *Agent) Generate(ctx context.Context, prompt string) (*router.Response, error) {
	var msgs []router.Message
	if a.role.System != "" {
		msgs = append(msgs, router.Message{Role: router.RoleSystem, Content: a.role.System})
	}
	msgs = append(msgs, router.Message{Role: router.RoleUser, Content: prompt})

	resp, err := a.router.Complete(ctx, router.Request{
		Messages:    msgs,
		Temperature: a.role.Temperature,
		MaxTokens:   a.role.MaxTokens,
		Component:   "pipeline." + a.name,
		RequestType: "generation",
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", a.name, err)
	}
	return resp, nil
}
