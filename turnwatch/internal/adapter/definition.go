package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// Definition is the declarative form of an adapter, used for the built-in
// platforms and for adapters declared in the YAML configuration.
type Definition struct {
	Platform   string    `yaml:"platform"`
	Ping       string    `yaml:"ping"`
	Roots      []string  `yaml:"roots"`
	Candidates []string  `yaml:"candidates"`
	Rules      []RuleDef `yaml:"rules"`
}

// RuleDef declares exactly one rule.
type RuleDef struct {
	Fixed      *FixedDef    `yaml:"fixed,omitempty"`
	Attribute  string       `yaml:"attribute,omitempty"`
	Keywords   *KeywordsDef `yaml:"keywords,omitempty"`
	Positional bool         `yaml:"positional,omitempty"`
}

// FixedDef declares a FixedContainer rule.
type FixedDef struct {
	Selector string `yaml:"selector"`
	Role     string `yaml:"role"`
}

// KeywordsDef declares a KeywordBlob rule.
type KeywordsDef struct {
	Attrs []string     `yaml:"attrs"`
	Words []KeywordDef `yaml:"words"`
}

// KeywordDef is one keyword → role mapping.
type KeywordDef struct {
	Word string `yaml:"word"`
	Role string `yaml:"role"`
}

// Compile validates def and builds an Adapter. A "body" locator is
// appended when the roots list does not already end with one, so every
// adapter falls back to the whole document.
func (def Definition) Compile() (*Adapter, error) {
	name := strings.ToLower(strings.TrimSpace(def.Platform))
	if name == "" {
		return nil, errors.New("adapter: platform name is required")
	}
	if len(def.Candidates) == 0 {
		return nil, fmt.Errorf("adapter %s: no candidate selectors", name)
	}
	if len(def.Rules) == 0 {
		return nil, fmt.Errorf("adapter %s: no classification rules", name)
	}

	a := &Adapter{Platform: turn.Platform(name), Ping: def.Ping}
	if a.Ping == "" {
		a.Ping = name + " watcher initialised"
	}

	roots := def.Roots
	if len(roots) == 0 || roots[len(roots)-1] != "body" {
		roots = append(roots[:len(roots):len(roots)], "body")
	}
	for _, expr := range roots {
		m, err := cascadia.ParseGroup(expr)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: root %q: %w", name, expr, err)
		}
		a.roots = append(a.roots, locator{expr: expr, match: m})
	}

	group, err := cascadia.ParseGroup(strings.Join(def.Candidates, ", "))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: candidates: %w", name, err)
	}
	a.candidates = group

	for i, rd := range def.Rules {
		if rd.Fixed != nil && i > 0 && def.Rules[i-1].Fixed == nil {
			return nil, fmt.Errorf("adapter %s: rule %d: fixed rules must precede all other rules", name, i)
		}
		rule, err := rd.compile()
		if err != nil {
			return nil, fmt.Errorf("adapter %s: rule %d: %w", name, i, err)
		}
		a.classifier = append(a.classifier, rule)
	}
	return a, nil
}

func (rd RuleDef) compile() (Rule, error) {
	set := 0
	var rule Rule
	if rd.Fixed != nil {
		set++
		m, err := cascadia.ParseGroup(rd.Fixed.Selector)
		if err != nil {
			return nil, fmt.Errorf("fixed selector %q: %w", rd.Fixed.Selector, err)
		}
		role, err := parseRuleRole(rd.Fixed.Role)
		if err != nil {
			return nil, err
		}
		rule = FixedContainer{Match: m, Role: role}
	}
	if rd.Attribute != "" {
		set++
		rule = AttributeDirect{Attr: rd.Attribute}
	}
	if rd.Keywords != nil {
		set++
		kb := KeywordBlob{Attrs: rd.Keywords.Attrs}
		for _, w := range rd.Keywords.Words {
			role, err := parseRuleRole(w.Role)
			if err != nil {
				return nil, err
			}
			if w.Word == "" {
				return nil, errors.New("empty keyword")
			}
			kb.Keywords = append(kb.Keywords, Keyword{Word: strings.ToLower(w.Word), Role: role})
		}
		if len(kb.Keywords) == 0 {
			return nil, errors.New("keywords rule without words")
		}
		rule = kb
	}
	if rd.Positional {
		set++
		rule = Positional{}
	}
	if set != 1 {
		return nil, fmt.Errorf("expected exactly one rule kind, got %d", set)
	}
	return rule, nil
}

// parseRuleRole accepts only roles a scan may emit.
func parseRuleRole(s string) (turn.Role, error) {
	switch r := turn.ParseRole(s); r {
	case turn.RoleUser, turn.RoleAssistant, turn.RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("role %q cannot be assigned by a rule", s)
	}
}
