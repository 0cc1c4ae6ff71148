// Package claims implements atomic-claim decomposition: segmenting a
// reasoning response into standalone, verifiable sentences and linking
// each one to the chunks that support it by keyword overlap.
package claims

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/seanblong/rlmcode/pkg/models"
)

const minClaimLength = 10

// opinionPattern flags a sentence as non-factual hedging rather than an
// assertion the system can verify against source.
var opinionPattern = regexp.MustCompile(`(?i)\b(think|believe|feel|suggest|recommend|might|could|should|probably|perhaps|maybe|in my opinion|i would say|it seems)\b`)

// metaCommentaryPattern flags a sentence that talks about the response
// itself rather than the code, matched only at the start of the sentence.
var metaCommentaryPattern = regexp.MustCompile(`(?i)^(in summary|to summarize|as mentioned|to clarify|note that|as i said|as noted|as shown|as we can see|let me|i will|i can|i should)\b`)

// questionWords matches a sentence that opens with an interrogative word
// and ends with "?"; every sentence it matches is also caught by the "?"
// suffix check in isVerifiable.
var questionWords = regexp.MustCompile(`(?i)^(what|why|how|when|where|who|is|are|does|do|can|could|would|should)\b.*\?$`)

// sentenceSplitter is a light, abbreviation-unaware sentence boundary
// matcher: each match is one sentence including its own terminal
// punctuation, so a trailing "?" survives for question detection. It is
// deliberately not a full NLP sentence tokenizer.
var sentenceSplitter = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// ExtractAtomicClaims segments text into atomic claims: one per surviving
// sentence, each tagged Verifiable per the question/opinion/meta-commentary
// rules, with Context set to the concatenation of its neighboring
// sentences and SourcePosition set to its index in the original text.
func ExtractAtomicClaims(text string) []models.AtomicClaim {
	sentences := splitSentences(text)
	claims := make([]models.AtomicClaim, 0, len(sentences))
	for i, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) < minClaimLength {
			continue
		}
		claims = append(claims, models.AtomicClaim{
			Text:           trimmed,
			Verifiable:     isVerifiable(trimmed),
			Context:        buildContext(sentences, i),
			SourcePosition: strings.Index(text, trimmed),
			ChunkIDs:       nil,
		})
	}
	return claims
}

// FilterVerifiable returns the subset of claims marked Verifiable. It is
// idempotent: filtering an already-filtered list returns it unchanged.
func FilterVerifiable(claims []models.AtomicClaim) []models.AtomicClaim {
	out := make([]models.AtomicClaim, 0, len(claims))
	for _, c := range claims {
		if c.Verifiable {
			out = append(out, c)
		}
	}
	return out
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	raw := sentenceSplitter.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func buildContext(sentences []string, i int) string {
	var parts []string
	if i > 0 {
		parts = append(parts, sentences[i-1])
	}
	parts = append(parts, sentences[i])
	if i+1 < len(sentences) {
		parts = append(parts, sentences[i+1])
	}
	return strings.Join(parts, " ")
}

func isVerifiable(sentence string) bool {
	if strings.HasSuffix(sentence, "?") {
		return false
	}
	if questionWords.MatchString(sentence) {
		return false
	}
	if opinionPattern.MatchString(sentence) {
		return false
	}
	if metaCommentaryPattern.MatchString(sentence) {
		return false
	}
	return true
}

// stopWords mirrors the small fixed set used by the lexical sparse
// transform, kept separate since claim keyword extraction has a slightly
// different purpose (linking, not ranking) and may diverge later.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"and": {}, "or": {}, "it": {}, "this": {}, "that": {}, "with": {}, "as": {},
	"at": {}, "by": {}, "from": {}, "into": {}, "do": {}, "does": {}, "did": {},
}

// Keywords extracts the nouns-and-verbs-shaped surface form of a claim:
// lowercase alphanumeric tokens with stop words removed. There is no
// part-of-speech tagger here, so every surviving content word is treated
// as a candidate keyword.
func Keywords(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if _, stop := stopWords[tok]; stop {
			return
		}
		out = append(out, tok)
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// LinksToChunk reports whether claimText is considered linked to
// chunkText by the fuzzy keyword-overlap rule: at least 2 shared
// keywords, or at least 50% of the claim's keywords present in the
// chunk. When fewer than 2 keywords can be extracted from the claim, any
// word longer than 4 characters that appears in the chunk counts as a
// link, so very short claims are not trivially unlinkable.
func LinksToChunk(claimText, chunkText string) bool {
	keywords := Keywords(claimText)
	lowerChunk := strings.ToLower(chunkText)

	if len(keywords) < 2 {
		for _, w := range strings.Fields(strings.ToLower(claimText)) {
			w = strings.Trim(w, ".,!?;:()[]{}\"'")
			if len(w) > 4 && strings.Contains(lowerChunk, w) {
				return true
			}
		}
		return false
	}

	matches := 0
	for _, kw := range keywords {
		if strings.Contains(lowerChunk, kw) {
			matches++
		}
	}
	if matches >= 2 {
		return true
	}
	return float64(matches)/float64(len(keywords)) >= 0.5
}
