/**
 * Correction rule sets
 *
 * Rules are loaded once as read-only configuration and validated up front:
 * a malformed rule fails at load time, never during per-document processing.
 * Each rule carries a category tag so diagnostics can say which error class
 * fired.
 */

package correct

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hardbug1/ocr2/internal/errors"
)

// Category tags the systematic error class a rule addresses.
type Category string

const (
	CategoryGlyph      Category = "glyph-normalization"
	CategoryMisread    Category = "misread"
	CategoryGrammar    Category = "grammar"
	CategoryDigitShape Category = "digit-shape"
)

// LiteralRule replaces an exact substring.
type LiteralRule struct {
	Trigger     string
	Replacement string
	Category    Category
}

// ContextualRule replaces only where the structural context matches, so
// intentionally alphanumeric sequences survive.
type ContextualRule struct {
	Pattern     string
	Replacement string
	Category    Category

	re *regexp.Regexp
}

// RuleSet is the loaded, immutable correction configuration.
type RuleSet struct {
	name       string
	literals   []LiteralRule // sorted longest trigger first
	contextual []ContextualRule
	attachable map[string]bool // spacing allow-list: particles and endings
}

// Name returns the rule set identifier.
func (rs *RuleSet) Name() string { return rs.name }

// Load resolves a rule set by identifier. Unknown identifiers and malformed
// rules are configuration errors.
func Load(name string) (*RuleSet, error) {
	switch name {
	case "none":
		return build(name, nil, nil, nil)
	case "korean-default":
		return build(name, koreanLiterals, koreanContextual, koreanAttachable)
	default:
		return nil, errors.NewConfigurationError("CORRECTION_RULE_SET", "unknown rule set "+name)
	}
}

// build validates and indexes the rules. Validation enforces the idempotence
// contract: no replacement may reintroduce any trigger.
func build(name string, literals []LiteralRule, contextual []ContextualRule, attachable []string) (*RuleSet, error) {
	rs := &RuleSet{name: name, attachable: make(map[string]bool)}

	for _, r := range literals {
		if r.Trigger == "" {
			return nil, errors.NewConfigurationError("CORRECTION_RULE_SET", "literal rule with empty trigger")
		}
		if r.Trigger == r.Replacement {
			return nil, errors.NewConfigurationError("CORRECTION_RULE_SET",
				"literal rule replaces "+r.Trigger+" with itself")
		}
		rs.literals = append(rs.literals, r)
	}
	for _, a := range rs.literals {
		for _, b := range rs.literals {
			if strings.Contains(a.Replacement, b.Trigger) {
				return nil, errors.NewConfigurationError("CORRECTION_RULE_SET",
					"replacement for "+a.Trigger+" reintroduces trigger "+b.Trigger)
			}
		}
	}

	// Longest trigger first prevents partial-match shadowing.
	sort.SliceStable(rs.literals, func(i, j int) bool {
		if len(rs.literals[i].Trigger) != len(rs.literals[j].Trigger) {
			return len(rs.literals[i].Trigger) > len(rs.literals[j].Trigger)
		}
		return rs.literals[i].Trigger < rs.literals[j].Trigger
	})

	for _, r := range contextual {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, errors.NewConfigurationError("CORRECTION_RULE_SET",
				"contextual rule pattern does not compile: "+r.Pattern)
		}
		r.re = re
		rs.contextual = append(rs.contextual, r)
	}

	for _, tok := range attachable {
		rs.attachable[tok] = true
	}
	return rs, nil
}

// koreanLiterals covers lookalike punctuation variants and recurring engine
// misreads observed on Korean documents.
var koreanLiterals = []LiteralRule{
	// Punctuation lookalikes
	{Trigger: "“", Replacement: `"`, Category: CategoryGlyph},
	{Trigger: "”", Replacement: `"`, Category: CategoryGlyph},
	{Trigger: "″", Replacement: `"`, Category: CategoryGlyph},
	{Trigger: "‘", Replacement: "'", Category: CategoryGlyph},
	{Trigger: "’", Replacement: "'", Category: CategoryGlyph},
	{Trigger: "′", Replacement: "'", Category: CategoryGlyph},
	{Trigger: "―", Replacement: "-", Category: CategoryGlyph},
	{Trigger: "–", Replacement: "-", Category: CategoryGlyph},
	{Trigger: "—", Replacement: "-", Category: CategoryGlyph},
	{Trigger: "…", Replacement: "...", Category: CategoryGlyph},
	{Trigger: "⋯", Replacement: "...", Category: CategoryGlyph},
	{Trigger: "（", Replacement: "(", Category: CategoryGlyph},
	{Trigger: "）", Replacement: ")", Category: CategoryGlyph},

	// Recurring misreads
	{Trigger: "0CR", Replacement: "OCR", Category: CategoryMisread},
	{Trigger: "서물시", Replacement: "서울시", Category: CategoryMisread},
	{Trigger: "테해란로", Replacement: "테헤란로", Category: CategoryMisread},
	{Trigger: "축정", Replacement: "측정", Category: CategoryMisread},
	{Trigger: "컴퓨터;", Replacement: "컴퓨터,", Category: CategoryMisread},
}

// koreanContextual rules fire only when the surrounding structure matches.
// RE2 note: \w does not cover Hangul, so Korean word shapes use \p{Hangul}.
var koreanContextual = []ContextualRule{
	// 잇다/엇다 misread of 있다 after 할 수
	{Pattern: `할\s*수\s*(?:잇|엇)다`, Replacement: "할 수 있다", Category: CategoryGrammar},
	// Letter O between digits is a zero (phone numbers, dates)
	{Pattern: `([0-9])[Oo]([0-9])`, Replacement: "${1}0${2}", Category: CategoryDigitShape},
	// Letter l or I between digits is a one
	{Pattern: `([0-9])[lI]([0-9])`, Replacement: "${1}1${2}", Category: CategoryDigitShape},
	// Stray spaces inside an email address
	{Pattern: `([A-Za-z0-9._%+-])\s+@\s*([A-Za-z0-9.-])`, Replacement: "${1}@${2}", Category: CategoryDigitShape},
}

// koreanAttachable lists the single-syllable particles and endings that a
// segmented-syllable recognizer tends to split off; only these ever merge
// back onto the previous word.
var koreanAttachable = []string{
	"은", "는", "이", "가", "을", "를", "에", "의", "로", "와", "과", "도", "만",
	"다", "요", "니다", "습니다",
}
