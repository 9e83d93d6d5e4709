// Package textmetrics implements the collaborator surface's deterministic
// post-hoc text analysis: word count, gzip compression ratio, trigram
// repetition, and filler-word counts. None of this feeds scheduling
// decisions.
package textmetrics

import (
	"bytes"
	"compress/gzip"
	"strings"
)

var fillerWords = map[string]bool{
	"basically": true, "actually": true, "literally": true, "essentially": true,
	"very": true, "really": true, "just": true, "quite": true, "somewhat": true,
	"simply": true,
}

// Metrics is the analysis result for one piece of text.
type Metrics struct {
	WordCount              int
	GzipCompressionRatio   float64
	TrigramRepetitionRatio float64
	FillerWordCount        int
}

// Analyze computes Metrics for text. An empty text yields a zero-value
// result with ratios at 0, never NaN or Inf.
func Analyze(text string) Metrics {
	words := strings.Fields(text)
	return Metrics{
		WordCount:              len(words),
		GzipCompressionRatio:   gzipRatio(text),
		TrigramRepetitionRatio: trigramRepetition(words),
		FillerWordCount:        fillerCount(words),
	}
}

// gzipRatio is compressed size / original size; lower implies more
// repetitive text. Returns 0 for empty input.
func gzipRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(text))
	_ = w.Close()
	return float64(buf.Len()) / float64(len(text))
}

// trigramRepetition is 1 - (unique trigrams / total trigrams); 0 means no
// repeated trigrams.
func trigramRepetition(words []string) float64 {
	if len(words) < 3 {
		return 0
	}
	total := len(words) - 2
	seen := make(map[string]bool, total)
	unique := 0
	for i := 0; i+3 <= len(words); i++ {
		key := strings.ToLower(strings.Join(words[i:i+3], " "))
		if !seen[key] {
			seen[key] = true
			unique++
		}
	}
	return 1 - float64(unique)/float64(total)
}

func fillerCount(words []string) int {
	n := 0
	for _, w := range words {
		if fillerWords[strings.ToLower(strings.Trim(w, ".,!?;:\"'"))] {
			n++
		}
	}
	return n
}
