package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Task struct {
	Name      string                 `yaml:"name"`
	Type      string                 `yaml:"type"`
	Params    map[string]interface{} `yaml:"params,omitempty"`
	DependsOn []string               `yaml:"depends_on,omitempty"`
	Timeout   time.Duration          `yaml:"timeout,omitempty"`
}

type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Tasks       []Task            `yaml:"tasks"`
	Variables   map[string]string `yaml:"variables,omitempty"`
}

type TaskResult struct {
	TaskName string
	Output   map[string]interface{}
	Error    error
	Duration time.Duration
}

type TaskHandler interface {
	Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to TaskHandler.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, params)
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario has no name")
	}
	if len(sc.Tasks) == 0 {
		return nil, fmt.Errorf("scenario %s has no tasks", sc.Name)
	}
	return &sc, nil
}

// LoadScenario reads a YAML scenario from path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}
