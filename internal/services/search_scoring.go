package services

import (
	"strings"
	"unicode/utf8"

	"github.com/google/shlex"
)

// Quote-like characters users paste from word processors and phone
// keyboards, all folded to a plain double quote before tokenization.
var quoteNormalizer = strings.NewReplacer(
	"'", `"`,
	"`", `"`,
	"´", `"`,
	"„", `"`,
	"“", `"`,
	"”", `"`,
	"‘", `"`,
	"’", `"`,
)

// NormalizeSearchTerm folds smart quotes and backticks to double quotes
// and trims surrounding whitespace. Quotes only affect tokenization; the
// base score is always computed against the unquoted term.
func NormalizeSearchTerm(term string) string {
	return strings.TrimSpace(quoteNormalizer.Replace(term))
}

// UnquoteSearchTerm strips the quote characters from a normalized term,
// yielding the literal content used for whole-term matching.
func UnquoteSearchTerm(normalized string) string {
	return strings.TrimSpace(strings.ReplaceAll(normalized, `"`, ""))
}

// minTokenLength gates which tokens contribute to partial scoring. One-
// and two-character tokens ("a", "1", "mg") would match almost everything.
const minTokenLength = 3

// SplitSearchTerm tokenizes a normalized search term shell-style: quoted
// groups stay together as one exact-phrase token, respecting embedded
// spaces. Tokens shorter than three characters are dropped. An unbalanced
// quote falls back to whitespace splitting instead of failing the search.
func SplitSearchTerm(normalized string) []string {
	tokens, err := shlex.Split(normalized)
	if err != nil {
		tokens = strings.Fields(strings.ReplaceAll(normalized, `"`, " "))
	}
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if utf8.RuneCountInString(token) < minTokenLength {
			continue
		}
		filtered = append(filtered, token)
	}
	return filtered
}

// ScoreSearchContent computes the relevance of one cache row's content
// for the given term.
//
// Whole-term base score: 1.2 if the content starts with the unquoted
// term, 1.1 if it contains it case-sensitively, 1.0 if only
// case-insensitively. Each token then adds 0.2 for a case-sensitive or
// 0.1 for a case-insensitive substring match. A total of 0 means the row
// does not match at all and must be excluded from results.
func ScoreSearchContent(content, unquotedTerm string, tokens []string) float64 {
	score := 0.0
	switch {
	case unquotedTerm == "":
		// nothing to match against
	case strings.HasPrefix(content, unquotedTerm):
		score += 1.2
	case strings.Contains(content, unquotedTerm):
		score += 1.1
	case containsFold(content, unquotedTerm):
		score += 1.0
	}
	for _, token := range tokens {
		switch {
		case strings.Contains(content, token):
			score += 0.2
		case containsFold(content, token):
			score += 0.1
		}
	}
	return score
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
