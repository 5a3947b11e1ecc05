package analysis

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/paulcanta/vidlyx/internal/embeddings"
	"github.com/paulcanta/vidlyx/internal/models"
)

// Local is the heuristic Service used when the external model is
// unavailable or out of quota. It never fails and never touches the
// network.
type Local struct {
	// TopicThreshold is the token-overlap similarity below which two
	// chunks count as different topics.
	TopicThreshold float64
}

// NewLocal creates the heuristic service with the default threshold.
func NewLocal() *Local {
	return &Local{TopicThreshold: 0.2}
}

// AnalyzeFrame has no visual understanding locally; it returns an empty
// analysis so callers can proceed with OCR-only signals.
func (l *Local) AnalyzeFrame(_ context.Context, _ string) (models.FrameAnalysis, error) {
	return models.FrameAnalysis{
		VisualElements: []string{},
		ContentType:    "other",
	}, nil
}

// JudgeTopicChange compares token overlap: low overlap means a likely
// topic change, with confidence growing as overlap shrinks.
func (l *Local) JudgeTopicChange(_ context.Context, textA, textB string) (models.TopicJudgment, error) {
	similarity := overlapSimilarity(embeddings.Tokenize(textA), embeddings.Tokenize(textB))
	return models.TopicJudgment{
		Changed:    similarity < l.TopicThreshold,
		Confidence: 1 - similarity,
	}, nil
}

// GenerateSectionMetadata derives a title from word frequency and uses a
// transcript prefix as the summary. Key points stay empty on the local path.
func (l *Local) GenerateSectionMetadata(_ context.Context, text string) (models.SectionMetadata, error) {
	return models.SectionMetadata{
		Title:     TitleFromText(text),
		Summary:   trimToSentence(text, 200),
		KeyPoints: []string{},
	}, nil
}

// stopwords excluded from frequency-based title extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "what": true, "your": true, "you": true,
	"for": true, "are": true, "was": true, "were": true, "will": true,
	"would": true, "could": true, "should": true, "about": true,
	"there": true, "their": true, "they": true, "them": true, "then": true,
	"than": true, "when": true, "where": true, "which": true, "while": true,
	"into": true, "just": true, "like": true, "also": true, "been": true,
	"being": true, "because": true, "going": true, "gonna": true,
	"really": true, "very": true, "some": true, "more": true, "most": true,
	"here": true, "over": true,
}

// TitleFromText extracts the one or two most frequent non-stopword tokens
// longer than three characters and joins them title-cased.
func TitleFromText(text string) string {
	counts := make(map[string]int)
	for _, token := range embeddings.Tokenize(text) {
		if len(token) <= 3 || stopwords[token] {
			continue
		}
		counts[token]++
	}
	if len(counts) == 0 {
		return "Untitled Section"
	}

	type wordCount struct {
		word  string
		count int
	}
	ranked := make([]wordCount, 0, len(counts))
	for word, count := range counts {
		ranked = append(ranked, wordCount{word, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	top := ranked[:min(2, len(ranked))]
	parts := make([]string, 0, len(top))
	for _, wc := range top {
		parts = append(parts, capitalize(wc.word))
	}
	return strings.Join(parts, " & ")
}

// overlapSimilarity is the Jaccard index of two token sets.
func overlapSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}

func trimToSentence(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	cutAt := maxLen
	for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
		cutAt--
	}
	cut := text[:cutAt]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
