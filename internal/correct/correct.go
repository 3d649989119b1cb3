package correct

import (
	"strings"
	"unicode"
)

// maxContextualPasses bounds the fixpoint loop; well-formed rules converge
// in one or two passes.
const maxContextualPasses = 10

// Apply runs the full correction stage: literal fixes, context-guarded
// fixes, then spacing normalization. Applying the stage to already-corrected
// text is a no-op, and a rule that matches nothing is simply skipped.
func (rs *RuleSet) Apply(text string) string {
	text = rs.applyLiteral(text)
	text = rs.applyContextual(text)
	text = rs.normalizeSpacing(text)
	return text
}

// applyLiteral performs exact-substring replacement, longest trigger first,
// so a long trigger is never shadowed by a shorter one sharing its prefix.
func (rs *RuleSet) applyLiteral(text string) string {
	for _, r := range rs.literals {
		text = strings.ReplaceAll(text, r.Trigger, r.Replacement)
	}
	return text
}

// applyContextual repeats each pattern replacement to a fixpoint. Regexp
// replacement skips overlapping matches within one pass, so a single pass
// can leave a correctable occurrence behind; iterating keeps the whole stage
// idempotent.
func (rs *RuleSet) applyContextual(text string) string {
	for _, r := range rs.contextual {
		for pass := 0; pass < maxContextualPasses; pass++ {
			next := r.re.ReplaceAllString(text, r.Replacement)
			if next == text {
				break
			}
			text = next
		}
	}
	return text
}

// normalizeSpacing collapses whitespace runs and re-attaches split-off
// particles and endings to the preceding word. Only allow-listed tokens ever
// merge, and never across punctuation, so legitimately distinct words stay
// separate.
func (rs *RuleSet) normalizeSpacing(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return strings.TrimSpace(text)
	}

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(out) > 0 && rs.attachable[tok] && canAttachTo(out[len(out)-1]) {
			out[len(out)-1] += tok
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// canAttachTo reports whether a particle may merge onto word: the word must
// end in Hangul, not punctuation.
func canAttachTo(word string) bool {
	runes := []rune(word)
	if len(runes) == 0 {
		return false
	}
	last := runes[len(runes)-1]
	if unicode.IsPunct(last) || unicode.IsSymbol(last) {
		return false
	}
	return unicode.Is(unicode.Hangul, last)
}
