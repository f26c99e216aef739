package normalize

import "strings"

const (
	keywordMinLen = 4
	keywordMaxLen = 20
	keywordCap    = 5
)

// stopWords are tokens excluded from keyword extraction. The list is fixed;
// extraction is token filtering, not interpretation.
var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "been": true, "were": true, "they": true, "them": true,
	"then": true, "than": true, "what": true, "when": true, "where": true,
	"which": true, "would": true, "could": true, "should": true, "there": true,
	"their": true, "about": true, "into": true, "over": true, "under": true,
	"some": true, "more": true, "most": true, "only": true, "just": true,
	"also": true, "very": true, "such": true, "each": true, "other": true,
	"because": true, "while": true, "after": true, "before": true, "being": true,
	"does": true, "doing": true, "done": true, "make": true, "made": true,
}

// ExtractKeywords tokenizes text on non-alphanumeric boundaries and keeps up
// to keywordCap lowercase tokens of 4-20 characters that are not stop words.
// Duplicates are collapsed; order of first appearance is preserved.
func ExtractKeywords(text string) []string {
	if text == "" {
		return nil
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isAlphaNum(r)
	})

	var keywords []string
	seen := map[string]bool{}

	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if len(tok) < keywordMinLen || len(tok) > keywordMaxLen {
			continue
		}
		if stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) == keywordCap {
			break
		}
	}
	return keywords
}

func isAlphaNum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
