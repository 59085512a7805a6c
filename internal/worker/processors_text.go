package worker

import (
	"strings"
	"unicode"
)

// PlaintextProcessor chunks arbitrary text into fixed-size, word-boundary
// safe windows. Written for the storage
// pipeline's character-count chunking contract (target size in characters,
// default 512, never splitting a word).
type PlaintextProcessor struct{}

func (PlaintextProcessor) Accepts(ext, contentType string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".text", ".log", ".csv":
		return true
	}
	return strings.HasPrefix(contentType, "text/plain") || contentType == ""
}

func (PlaintextProcessor) Process(text, sourceFile, contentType, extractionMethod string, options map[string]any) ([]Chunk, FileMetadata, error) {
	target := targetChunkSize(options)
	chunks := fixedWindowChunk(text, target)

	meta := FileMetadata{
		WordCount:        countWords(text),
		Confidence:       1.0,
		ExtractionMethod: extractionMethod,
	}
	return chunks, meta, nil
}

// MarkdownProcessor chunks on heading and paragraph boundaries, preferring
// to keep a heading with the text that follows it.
type MarkdownProcessor struct{}

func (MarkdownProcessor) Accepts(ext, contentType string) bool {
	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return true
	}
	return strings.Contains(contentType, "markdown")
}

func (MarkdownProcessor) Process(text, sourceFile, contentType, extractionMethod string, options map[string]any) ([]Chunk, FileMetadata, error) {
	target := targetChunkSize(options)
	chunks := markdownChunk(text, target)

	meta := FileMetadata{
		WordCount:        countWords(text),
		Confidence:       1.0,
		ExtractionMethod: extractionMethod,
		Title:            firstHeading(text),
	}
	return chunks, meta, nil
}

func targetChunkSize(options map[string]any) int {
	if v, ok := options["chunk_size"]; ok {
		if n, ok := v.(int); ok && n > 0 {
			return n
		}
	}
	return 512
}

// fixedWindowChunk splits text into windows of approximately size
// characters, backing off to the last whitespace in the window's second
// half, or else running on to the next whitespace, so a chunk never ends
// mid-word.
func fixedWindowChunk(text string, size int) []Chunk {
	if size < 32 {
		size = 32
	}
	var out []Chunk
	start, ordinal := 0, 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else if i := strings.LastIndexFunc(text[start:end], unicode.IsSpace); i > size/2 {
			end = start + i
		} else if j := strings.IndexFunc(text[end:], unicode.IsSpace); j >= 0 {
			end += j
		} else {
			end = len(text)
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, Chunk{Content: piece, Ordinal: ordinal, Category: "text"})
			ordinal++
		}
		if end == len(text) {
			break
		}
		start = end
	}
	return out
}

// markdownChunk flushes a buffer at each heading boundary and whenever a
// paragraph break pushes the buffer past the target size.
func markdownChunk(text string, size int) []Chunk {
	lines := strings.Split(text, "\n")
	var out []Chunk
	var buf strings.Builder
	ordinal := 0

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, Chunk{Content: s, Ordinal: ordinal, Category: "markdown"})
			ordinal++
		}
		buf.Reset()
	}

	for i, ln := range lines {
		isHeading := strings.HasPrefix(strings.TrimSpace(ln), "#")
		isParaBreak := strings.TrimSpace(ln) == "" && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != ""

		if isHeading && buf.Len() > 0 {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(ln)
		if (isHeading || isParaBreak) && buf.Len() >= size {
			flush()
		}
	}
	flush()
	return out
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func firstHeading(text string) string {
	for _, ln := range strings.Split(text, "\n") {
		t := strings.TrimSpace(ln)
		if strings.HasPrefix(t, "#") {
			return strings.TrimSpace(strings.TrimLeft(t, "# "))
		}
	}
	return ""
}
