package cache

import "strings"

// Weights for the blended lexical score: token overlap with the stored
// user message dominates, overlap with the stored response contributes
// the remainder.
const (
	messageWeight  = 0.7
	responseWeight = 0.3
)

// tokenize lowercases and splits on non-alphanumeric runes, returning the
// token set.
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = true
			b.Reset()
		}
	}
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
			continue
		}
		flush()
	}
	flush()
	return out
}

// jaccard is |A∩B| / |A∪B|; two empty sets score 0.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// lexicalScore blends message and response overlap for one stored sample.
func lexicalScore(message string, s Sample) float64 {
	msgTokens := tokenize(message)
	return messageWeight*jaccard(msgTokens, tokenize(s.UserMessage)) +
		responseWeight*jaccard(msgTokens, tokenize(s.AgentResponse))
}
