package domain

// Rule maps a category description to the folder documents of that category
// are archived into.
type Rule struct {
	Name        string
	Description string
	Target      RemotePath
}

// RuleSet is the full set of categorization rules for a run. Loaded once,
// read-only, shared by all workers.
type RuleSet struct {
	rules []Rule
}

func NewRuleSet(rules []Rule) RuleSet {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return RuleSet{rules: out}
}

func (rs RuleSet) Rules() []Rule { return rs.rules }

func (rs RuleSet) Len() int { return len(rs.rules) }

// Resolve maps category names returned by the classifier to rules. Names the
// rule set does not know are returned separately; duplicates collapse to one
// match, preserving rule-set order.
func (rs RuleSet) Resolve(names []string) (matched []Rule, unknown []string) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	known := make(map[string]bool, len(rs.rules))
	for _, rule := range rs.rules {
		known[rule.Name] = true
		if wanted[rule.Name] {
			matched = append(matched, rule)
			delete(wanted, rule.Name)
		}
	}
	for _, name := range names {
		if !known[name] && wanted[name] {
			unknown = append(unknown, name)
			delete(wanted, name)
		}
	}
	return matched, unknown
}

// TargetFolders returns the distinct target folders of the given rules,
// preserving first-seen order.
func TargetFolders(rules []Rule) []RemotePath {
	seen := make(map[RemotePath]bool, len(rules))
	var folders []RemotePath
	for _, rule := range rules {
		if rule.Target == "" || seen[rule.Target] {
			continue
		}
		seen[rule.Target] = true
		folders = append(folders, rule.Target)
	}
	return folders
}
