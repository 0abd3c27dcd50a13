package chunker

import (
	"context"
	"strings"
	"testing"
)

func TestFixedChunkerEmptyInput(t *testing.T) {
	c := NewFixedChunker(Config{MinChunkSize: 10, MaxChunkSize: 100, Overlap: 10})

	chunks, err := c.Chunk(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestFixedChunkerShortInputSingleChunk(t *testing.T) {
	c := NewFixedChunker(Config{MinChunkSize: 10, MaxChunkSize: 100, Overlap: 10})

	chunks, err := c.Chunk(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Errorf("expected single chunk, got %v", chunks)
	}
}

func TestFixedChunkerOverlap(t *testing.T) {
	c := NewFixedChunker(Config{MinChunkSize: 5, MaxChunkSize: 20, Overlap: 5})

	text := strings.Repeat("abcdefghij", 10) // 100 chars
	chunks, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-5:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with previous chunk's last 5 chars", i)
		}
	}
}

func TestFixedChunkerNoUndersizedTail(t *testing.T) {
	c := NewFixedChunker(Config{MinChunkSize: 50, MaxChunkSize: 100, Overlap: 0})

	// 110 chars: naive split would leave a 10-char tail.
	text := strings.Repeat("x", 110)
	chunks, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected tail merged into one chunk, got %d chunks", len(chunks))
	}
	if len(chunks[0]) != 110 {
		t.Errorf("merged chunk should cover full text, got %d chars", len(chunks[0]))
	}
}

func TestFixedChunkerCoversAllText(t *testing.T) {
	c := NewFixedChunker(Config{MinChunkSize: 10, MaxChunkSize: 30, Overlap: 10})

	text := strings.Repeat("0123456789", 15)
	chunks, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Errorf("last chunk should end the text")
	}
	if !strings.HasPrefix(text, chunks[0]) {
		t.Errorf("first chunk should start the text")
	}
}

func TestSemanticChunkerFallsBackOnFewSentences(t *testing.T) {
	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		t.Fatal("embed should not be called for short input")
		return nil, nil
	}
	c := NewSemanticChunker(Config{MinChunkSize: 5, MaxChunkSize: 100, Overlap: 10}, embed)

	chunks, err := c.Chunk(context.Background(), "Only two sentences here. That is all.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected fixed fallback single chunk, got %v", chunks)
	}
}

func TestSemanticChunkerSplitsAtBreakpoint(t *testing.T) {
	// First half of the windows cluster around one vector, second half around
	// an orthogonal one, so the largest distance sits at the topic boundary.
	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range texts {
			if i < len(texts)/2 {
				vecs[i] = []float32{1, 0}
			} else {
				vecs[i] = []float32{0, 1}
			}
		}
		return vecs, nil
	}
	c := NewSemanticChunker(Config{MinChunkSize: 5, MaxChunkSize: 1000, Overlap: 0, ThresholdPercentile: 90}, embed)

	text := "Dogs are loyal. Dogs like walks. Dogs bark sometimes. Stars are distant suns. Stars emit light. Stars form in nebulae."
	chunks, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a split at the topic boundary, got %v", chunks)
	}
	if !strings.Contains(chunks[0], "Dogs") {
		t.Errorf("first chunk should hold the first topic: %q", chunks[0])
	}
}

func TestSemanticChunkerPropagatesEmbedError(t *testing.T) {
	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, context.DeadlineExceeded
	}
	c := NewSemanticChunker(Config{MinChunkSize: 5, MaxChunkSize: 100}, embed)

	_, err := c.Chunk(context.Background(), "One sentence. Two sentences. Three sentences. Four sentences.")
	if err == nil {
		t.Fatal("expected embed error to propagate")
	}
}

func TestConfigValidate(t *testing.T) {
	bad := Config{Strategy: StrategyFixed, MinChunkSize: 100, MaxChunkSize: 50}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for max < min")
	}

	bad = Config{Strategy: StrategyFixed, MinChunkSize: 10, MaxChunkSize: 50, Overlap: 50}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for overlap >= max")
	}

	bad = Config{Strategy: "wat", MinChunkSize: 10, MaxChunkSize: 50}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNewRequiresEmbedForSemantic(t *testing.T) {
	_, err := New(Config{Strategy: StrategySemantic}, nil)
	if err == nil {
		t.Fatal("expected error when semantic strategy has no embed function")
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	if got := percentile(vals, 50); got != 3 {
		t.Errorf("expected median 3, got %f", got)
	}
	if got := percentile(vals, 100); got != 5 {
		t.Errorf("expected max 5, got %f", got)
	}
}

// Word counts stand in for token counts so the packing logic is testable
// without loading an encoding.
func wordCount(s string) int { return len(strings.Fields(s)) }

func lastWords(n int) func(string) string {
	return func(chunk string) string {
		words := strings.Fields(chunk)
		if len(words) <= n {
			return ""
		}
		return strings.Join(words[len(words)-n:], " ")
	}
}

func noOverlap(string) string { return "" }

func TestPackSentencesKeepsSentencesWhole(t *testing.T) {
	sentences := []string{
		"One two three.",
		"Four five six.",
		"Seven eight nine ten.",
	}
	chunks := packSentences(sentences, 6, wordCount, noOverlap)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	if chunks[0] != "One two three. Four five six." {
		t.Errorf("first chunk should hold both fitting sentences: %q", chunks[0])
	}
	if chunks[1] != "Seven eight nine ten." {
		t.Errorf("second chunk should hold the overflowing sentence whole: %q", chunks[1])
	}
}

func TestPackSentencesSeedsOverlapSuffix(t *testing.T) {
	sentences := []string{
		"One two three.",
		"Four five six.",
		"Seven eight nine ten.",
	}
	chunks := packSentences(sentences, 6, wordCount, lastWords(2))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	if !strings.HasPrefix(chunks[1], "five six.") {
		t.Errorf("second chunk should start with the previous chunk's suffix: %q", chunks[1])
	}
	if !strings.HasSuffix(chunks[1], "Seven eight nine ten.") {
		t.Errorf("second chunk should carry the next sentence: %q", chunks[1])
	}
}

func TestPackSentencesDropsSeedWhenItLeavesNoRoom(t *testing.T) {
	sentences := []string{
		"Alpha beta gamma delta epsilon.",
		"Zeta eta theta iota kappa.",
	}
	chunks := packSentences(sentences, 5, wordCount, lastWords(2))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	// Seed plus second sentence would exceed the budget, so the seed is
	// discarded instead of being emitted as a chunk of its own.
	if chunks[1] != "Zeta eta theta iota kappa." {
		t.Errorf("seed should have been dropped: %q", chunks[1])
	}
}

func TestPackSentencesNoTrailingSeedOnlyChunk(t *testing.T) {
	sentences := []string{
		"One two three four five.",
	}
	chunks := packSentences(sentences, 5, wordCount, lastWords(2))
	if len(chunks) != 1 {
		t.Fatalf("an overlap seed with no following sentence must not be emitted: %v", chunks)
	}
}

func TestSplitSentencesKeepsDecimals(t *testing.T) {
	got := splitSentences("Pi is 3.14 roughly. That is known.")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %v", got)
	}
	if !strings.Contains(got[0], "3.14") {
		t.Errorf("decimal split incorrectly: %v", got)
	}
}
