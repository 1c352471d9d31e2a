package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"voxlate/internal/audio"
	"voxlate/internal/models"
)

// DefaultChunkDelay is the pause between consecutive chunk requests.
const DefaultChunkDelay = 500 * time.Millisecond

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// fullWidth terminals end a sentence without trailing whitespace.
func isFullWidthTerminal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// SplitSentences splits text after terminal punctuation. Sentences are
// trimmed; empty ones are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !isTerminal(r) {
			continue
		}
		// swallow runs like "?!" or "..." and closing quotes
		j := i + 1
		for j < len(runes) && (isTerminal(runes[j]) || strings.ContainsRune(`"')]」』`, runes[j])) {
			j++
		}
		if j == len(runes) || unicode.IsSpace(runes[j]) || isFullWidthTerminal(r) {
			flush(j)
		}
		i = j - 1
	}
	flush(len(runes))
	return sentences
}

// ChunkText packs whole sentences into chunks of at most maxChars runes,
// joined by single spaces. A sentence longer than maxChars is split on
// word boundaries, and a single word longer than maxChars is cut.
func ChunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	add := func(piece string) {
		n := utf8.RuneCountInString(piece)
		if curLen > 0 && curLen+1+n > maxChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, sentence := range SplitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxChars {
			add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for _, part := range cutRunes(word, maxChars) {
				add(part)
			}
		}
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func cutRunes(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	var parts []string
	for len(runes) > n {
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return append(parts, string(runes))
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ChunkedTranslator splits long inputs for a Translator with a length
// limit. Chunks are sent one at a time with Delay between requests.
type ChunkedTranslator struct {
	Inner    Translator
	MaxChars int
	Delay    time.Duration
}

// Translate implements Translator.
func (c *ChunkedTranslator) Translate(ctx context.Context, text, source, target string) (Translation, error) {
	chunks := ChunkText(text, c.MaxChars)
	if len(chunks) <= 1 {
		return c.Inner.Translate(ctx, text, source, target)
	}

	parts := make([]string, 0, len(chunks))
	var confidence float64
	for i, chunk := range chunks {
		if i > 0 {
			if err := pause(ctx, c.Delay); err != nil {
				return Translation{}, err
			}
		}
		res, err := c.Inner.Translate(ctx, chunk, source, target)
		if err != nil {
			return Translation{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			parts = append(parts, t)
		}
		confidence += res.Confidence
	}
	return Translation{
		Text:       strings.Join(parts, " "),
		Confidence: confidence / float64(len(chunks)),
	}, nil
}

// ChunkedSynthesizer splits long inputs for a Synthesizer with a length
// limit and concatenates the resulting audio.
type ChunkedSynthesizer struct {
	Inner    Synthesizer
	MaxChars int
	Delay    time.Duration
}

// Synthesize implements Synthesizer.
func (c *ChunkedSynthesizer) Synthesize(ctx context.Context, text, language string, quality models.Quality) (Speech, error) {
	chunks := ChunkText(text, c.MaxChars)
	if len(chunks) <= 1 {
		return c.Inner.Synthesize(ctx, text, language, quality)
	}

	var (
		parts    [][]byte
		format   audio.Format
		duration time.Duration
	)
	for i, chunk := range chunks {
		if i > 0 {
			if err := pause(ctx, c.Delay); err != nil {
				return Speech{}, err
			}
		}
		res, err := c.Inner.Synthesize(ctx, chunk, language, quality)
		if err != nil {
			return Speech{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if len(res.Audio) == 0 {
			return Speech{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), ErrEmptyResult)
		}
		if i == 0 {
			format = res.Format
		} else if res.Format != format {
			return Speech{}, fmt.Errorf("chunk %d/%d: format %s differs from %s", i+1, len(chunks), res.Format, format)
		}
		parts = append(parts, res.Audio)
		duration += res.Duration
	}

	joined, err := audio.Concat(format, parts)
	if err != nil {
		return Speech{}, fmt.Errorf("failed to join speech chunks: %w", err)
	}
	return Speech{Audio: joined, Format: format, Duration: duration}, nil
}
