package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Target      string `yaml:"target"`
}

// Load reads the categorization rules from a YAML file. The file is loaded
// once per run and the resulting set is shared read-only by all workers.
func Load(path string) (domain.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (domain.RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return domain.RuleSet{}, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(file.Rules) == 0 {
		return domain.RuleSet{}, fmt.Errorf("rules file defines no rules")
	}

	seen := make(map[string]bool, len(file.Rules))
	out := make([]domain.Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return domain.RuleSet{}, fmt.Errorf("rule %d: name is required", i+1)
		}
		if seen[name] {
			return domain.RuleSet{}, fmt.Errorf("rule %q: duplicate name", name)
		}
		seen[name] = true

		target := strings.TrimSpace(entry.Target)
		if target == "" {
			return domain.RuleSet{}, fmt.Errorf("rule %q: target is required", name)
		}
		if !strings.HasPrefix(target, "/") {
			return domain.RuleSet{}, fmt.Errorf("rule %q: target %q must be an absolute remote path", name, target)
		}

		out = append(out, domain.Rule{
			Name:        name,
			Description: strings.TrimSpace(entry.Description),
			Target:      domain.RemotePath(strings.TrimRight(target, "/")),
		})
	}
	return domain.NewRuleSet(out), nil
}
