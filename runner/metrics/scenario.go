package metrics

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/perf-cascade/runner/config"
)

var (
	integerToken = regexp.MustCompile(`\d+`)
	// usersToken matches the tokens that only carry the concurrency level, e.g. "25", "25u", "users"
	usersToken = regexp.MustCompile(`^(\d+[a-z]*|users?|u)$`)
)

// ScenarioRule derives the scenario name and concurrency level from a sample
// file name. A base name whose slug is a configured scenario's slug followed
// only by concurrency tokens names that scenario, longest slug first.
// Otherwise Keywords are matched in order as case-insensitive substrings of
// the base name; the first match names the scenario. Without a match the
// cleaned base name is used. The user count is the first integer embedded in
// the base name (after the scenario slug, when one matched), or DefaultUsers
// when there is none.
type ScenarioRule struct {
	Scenarios    []string
	Keywords     []config.KeywordConfig
	DefaultUsers int
}

// NewScenarioRule creates a rule from configuration. scenarios are the
// configured scenario names whose sample files the rule must map back.
func NewScenarioRule(cfg config.ScenarioRuleConfig, scenarios ...string) ScenarioRule {
	rule := ScenarioRule{Keywords: cfg.Keywords, DefaultUsers: cfg.DefaultUsers}
	if len(rule.Keywords) == 0 {
		rule.Keywords = config.DefaultKeywords()
	}
	if rule.DefaultUsers <= 0 {
		rule.DefaultUsers = 10
	}
	for _, name := range scenarios {
		if config.ScenarioSlug(name) != "" {
			rule.Scenarios = append(rule.Scenarios, name)
		}
	}
	sort.SliceStable(rule.Scenarios, func(i, j int) bool {
		return len(config.ScenarioSlug(rule.Scenarios[i])) > len(config.ScenarioSlug(rule.Scenarios[j]))
	})
	return rule
}

// Derive returns the scenario name and user count for source
func (r ScenarioRule) Derive(source string) (string, int) {
	base := baseName(source)
	if name, rest, ok := r.configured(base); ok {
		return name, r.users(rest)
	}
	return r.scenario(base), r.users(base)
}

// configured matches base against the configured scenario slugs and returns
// the part of the slug after the match
func (r ScenarioRule) configured(base string) (string, string, bool) {
	slug := config.ScenarioSlug(base)
	for _, name := range r.Scenarios {
		want := config.ScenarioSlug(name)
		if slug == want {
			return name, "", true
		}
		if !strings.HasPrefix(slug, want+"_") {
			continue
		}
		rest := slug[len(want)+1:]
		if onlyUsersTokens(rest) {
			return name, rest, true
		}
	}
	return "", "", false
}

func onlyUsersTokens(s string) bool {
	for _, t := range strings.Split(s, "_") {
		if !usersToken.MatchString(t) {
			return false
		}
	}
	return true
}

func (r ScenarioRule) scenario(base string) string {
	lower := strings.ToLower(base)
	for _, kw := range r.Keywords {
		if kw.Token != "" && strings.Contains(lower, strings.ToLower(kw.Token)) {
			return kw.Scenario
		}
	}

	tokens := strings.FieldsFunc(lower, func(c rune) bool {
		return !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9')
	})
	kept := tokens[:0]
	for _, t := range tokens {
		if !usersToken.MatchString(t) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		if base == "" {
			return "default"
		}
		return base
	}
	return strings.Join(kept, " ")
}

func (r ScenarioRule) users(base string) int {
	if m := integerToken.FindString(base); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n
		}
	}
	if r.DefaultUsers > 0 {
		return r.DefaultUsers
	}
	return 10
}

// baseName strips directories and every extension, e.g. "out/get_10.jtl.csv" -> "get_10"
func baseName(source string) string {
	base := filepath.Base(source)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
