package textmetrics

import "testing"

func TestAnalyzeEmptyTextYieldsZeroesNotNaN(t *testing.T) {
	m := Analyze("")
	if m.WordCount != 0 || m.GzipCompressionRatio != 0 || m.TrigramRepetitionRatio != 0 || m.FillerWordCount != 0 {
		t.Errorf("Analyze(\"\") = %+v, want all zero", m)
	}
}

func TestAnalyzeCountsWords(t *testing.T) {
	m := Analyze("the quick brown fox jumps")
	if m.WordCount != 5 {
		t.Errorf("WordCount = %d, want 5", m.WordCount)
	}
}

func TestAnalyzeDetectsRepeatedTrigrams(t *testing.T) {
	repetitive := Analyze("the cat sat the cat sat the cat sat")
	varied := Analyze("the cat sat on a warm mat by the door")
	if repetitive.TrigramRepetitionRatio <= varied.TrigramRepetitionRatio {
		t.Errorf("repetitive ratio %v should exceed varied ratio %v", repetitive.TrigramRepetitionRatio, varied.TrigramRepetitionRatio)
	}
}

func TestAnalyzeShortTextHasZeroTrigramRatio(t *testing.T) {
	m := Analyze("one two")
	if m.TrigramRepetitionRatio != 0 {
		t.Errorf("TrigramRepetitionRatio = %v, want 0 for fewer than three words", m.TrigramRepetitionRatio)
	}
}

func TestAnalyzeCountsFillerWords(t *testing.T) {
	m := Analyze("This is basically just a really simple test, actually.")
	if m.FillerWordCount != 4 {
		t.Errorf("FillerWordCount = %d, want 4", m.FillerWordCount)
	}
}

func TestAnalyzeGzipRatioRewardsRepetition(t *testing.T) {
	repetitive := Analyze("ababababababababababababababababababababababababab")
	random := Analyze("q7x!pZ 9kLm#2vR tY&0wQ eU@6sN 1jK*4aD cF$8hB")
	if repetitive.GzipCompressionRatio >= random.GzipCompressionRatio {
		t.Errorf("repetitive text should compress better (lower ratio): got repetitive=%v random=%v", repetitive.GzipCompressionRatio, random.GzipCompressionRatio)
	}
}
