// Package scenario provides canned conversations for dry runs of the reply
// pipeline.
package scenario

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"rosebud-x-bot/internal/bot"
)

//go:embed scenarios.yaml
var scenariosYAML []byte

// Message is one post in a scenario thread
type Message struct {
	ID        string    `yaml:"id"`
	Username  string    `yaml:"username"`
	Name      string    `yaml:"name"`
	Text      string    `yaml:"text"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Scenario is a named conversation
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Thread      []Message `yaml:"thread"`
}

// Context converts the scenario into a thread context
func (s Scenario) Context() bot.ThreadContext {
	thread := make(bot.ThreadContext, 0, len(s.Thread))
	for _, m := range s.Thread {
		thread = append(thread, bot.Post{
			ID:             m.ID,
			Text:           m.Text,
			AuthorUsername: m.Username,
			AuthorName:     m.Name,
			CreatedAt:      m.CreatedAt,
		})
	}
	return thread
}

type file struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

var (
	loadOnce sync.Once
	loaded   map[string]Scenario
	loadErr  error
)

// Parse decodes scenarios from YAML. Names must be unique and non-empty.
func Parse(data []byte) (map[string]Scenario, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}

	byName := make(map[string]Scenario, len(f.Scenarios))
	for i, s := range f.Scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("scenario %d has no name", i)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate scenario %q", s.Name)
		}
		byName[s.Name] = s
	}
	return byName, nil
}

func builtin() (map[string]Scenario, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse(scenariosYAML)
	})
	return loaded, loadErr
}

// List returns the built-in scenarios sorted by name
func List() ([]Scenario, error) {
	all, err := builtin()
	if err != nil {
		return nil, err
	}

	list := make([]Scenario, 0, len(all))
	for _, s := range all {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Get returns a built-in scenario by name
func Get(name string) (Scenario, error) {
	all, err := builtin()
	if err != nil {
		return Scenario{}, err
	}

	s, ok := all[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
	return s, nil
}
