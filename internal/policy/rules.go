// Package policy implements scan rule matching, directive extraction
// and template expansion, plus the persisted configuration buckets.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// DefaultDirectiveTags maps directive trigger characters to their
// semantic tags.
var DefaultDirectiveTags = map[string]string{
	"*": "Deployment",
	"/": "Return",
}

// RuleSource supplies the stored rule list in order.
type RuleSource interface {
	Rules() []domain.Rule
}

// Engine matches scanned text against ordered pattern rules. The first
// enabled rule whose pattern matches wins; there is no ranking and no
// overlap resolution.
type Engine struct {
	rules         RuleSource
	directiveTags map[string]string
	logger        *zap.Logger
}

// NewEngine creates a rule engine.
func NewEngine(rules RuleSource, directiveTags map[string]string, logger *zap.Logger) *Engine {
	if directiveTags == nil {
		directiveTags = DefaultDirectiveTags
	}
	return &Engine{
		rules:         rules,
		directiveTags: directiveTags,
		logger:        logger,
	}
}

// MatchScan evaluates rules in stored order and returns the first
// match with its variables and expanded actions, or nil.
func (e *Engine) MatchScan(text string) *domain.Match {
	trimmed := strings.TrimSpace(text)

	for _, rule := range e.rules.Rules() {
		if !rule.Enabled {
			continue
		}

		groups, ok := e.testPattern(rule, trimmed)
		if !ok {
			continue
		}

		vars := e.buildVariables(rule, text, trimmed, groups)
		return &domain.Match{
			Rule:            rule,
			Variables:       vars,
			ExpandedActions: ExpandActions(rule.Actions, vars),
		}
	}
	return nil
}

// testPattern runs one rule's pattern test. A malformed regex is
// logged and treated as no match; subsequent rules are still tried.
func (e *Engine) testPattern(rule domain.Rule, trimmed string) ([]string, bool) {
	switch rule.PatternType {
	case domain.PatternRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			e.logger.Warn("malformed rule pattern",
				zap.String("rule", rule.Name),
				zap.Error(err))
			return nil, false
		}
		groups := re.FindStringSubmatch(trimmed)
		if groups == nil {
			return nil, false
		}
		return groups, true
	case domain.PatternExact:
		return nil, trimmed == rule.Pattern
	case domain.PatternStartsWith:
		return nil, strings.HasPrefix(trimmed, rule.Pattern)
	case domain.PatternContains:
		return nil, strings.Contains(trimmed, rule.Pattern)
	case domain.PatternEndsWith:
		return nil, strings.HasSuffix(trimmed, rule.Pattern)
	default:
		e.logger.Warn("unknown pattern type",
			zap.String("rule", rule.Name),
			zap.String("pattern_type", string(rule.PatternType)))
		return nil, false
	}
}

// buildVariables produces the match variable set: raw and trimmed text,
// last-N helpers, the resolved directive tag, group1..groupN and any
// aliased groups.
func (e *Engine) buildVariables(rule domain.Rule, raw, trimmed string, groups []string) domain.MatchVariables {
	vars := domain.MatchVariables{
		"raw":     raw,
		"trimmed": trimmed,
		"last4":   lastN(trimmed, 4),
		"last6":   lastN(trimmed, 6),
	}

	if rule.UseDirective {
		if tag, ok := e.scanDirective(rule, raw); ok {
			vars["directive"] = tag
		}
	}

	for i := 1; i < len(groups); i++ {
		vars[fmt.Sprintf("group%d", i)] = groups[i]
	}
	for alias, idx := range rule.GroupIndexes {
		if idx >= 1 && idx < len(groups) {
			vars[alias] = groups[idx]
		}
	}
	return vars
}

// scanDirective finds the first configured trigger character present in
// the raw text (configured order wins) and maps it to its tag.
func (e *Engine) scanDirective(rule domain.Rule, raw string) (string, bool) {
	for _, ch := range rule.DirectiveChars {
		if ch == "" || !strings.Contains(raw, ch) {
			continue
		}
		tag, ok := e.directiveTags[ch]
		if !ok {
			// Trigger with no mapping still counts as absent.
			continue
		}
		return tag, true
	}
	return "", false
}

func lastN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// Expand resolves ${name} placeholders against the variable set. An
// unknown placeholder expands to the empty string, never an error.
func Expand(template string, vars domain.MatchVariables) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// ExpandActions returns a copy of actions with every templated string
// member resolved.
func ExpandActions(actions []domain.Action, vars domain.MatchVariables) []domain.Action {
	out := make([]domain.Action, len(actions))
	for i, a := range actions {
		a.Value = Expand(a.Value, vars)
		a.Title = Expand(a.Title, vars)
		a.Message = Expand(a.Message, vars)
		a.Text = Expand(a.Text, vars)
		a.URL = Expand(a.URL, vars)
		a.Serial = Expand(a.Serial, vars)
		out[i] = a
	}
	return out
}
