package workload

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Parser turns scenario YAML into a Scenario, expanding the generator script
// when one is present. Validation is a separate step so callers can report
// every problem at once.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser with the given logger.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "workload")}
}

// Parse decodes scenario YAML and runs the generator script if the scenario
// carries one. Generated atoms append after the static ones.
func (p *Parser) Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}

	if sc.Script != "" {
		extra, err := runGenerator(sc.Script, &sc)
		if err != nil {
			return nil, fmt.Errorf("generator script: %w", err)
		}
		p.logger.Debug("generator expanded scenario",
			"scenario", sc.Name,
			"static_atoms", len(sc.Atoms),
			"generated_atoms", len(extra))
		sc.Atoms = append(sc.Atoms, extra...)
	}

	return &sc, nil
}

// ParseFile reads and parses a scenario file.
func (p *Parser) ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}
