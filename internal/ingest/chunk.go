package ingest

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/seenimoa/portiq/internal/retrieval"
	"github.com/seenimoa/portiq/pkg/models"
)

// DefaultChunkChars bounds a news chunk when no size is configured.
const DefaultChunkChars = 1500

const paragraphSep = "\n\n"

// ChunkText packs non-empty lines into chunks of at most maxChars runes,
// separators included, joining paragraphs with a blank line. A single
// paragraph longer than maxChars becomes its own chunk.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	var (
		chunks  []string
		current []string
		size    int
	)
	for _, line := range strings.Split(text, "\n") {
		para := strings.TrimSpace(line)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if len(current) > 0 {
			if size+len(paragraphSep)+n > maxChars {
				chunks = append(chunks, strings.Join(current, paragraphSep))
				current, size = nil, 0
			} else {
				n += len(paragraphSep)
			}
		}
		current = append(current, para)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, paragraphSep))
	}
	return chunks
}

// embedChunks embeds the first limit chunks and returns points sharing
// meta. A limit of zero or less keeps all chunks.
func embedChunks(ctx context.Context, e retrieval.Embedder, chunks []string, meta map[string]string, limit int) ([]retrieval.Point, error) {
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	points := make([]retrieval.Point, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := e.Embed(ctx, chunk)
		if err != nil {
			return nil, err
		}
		md := make(map[string]string, len(meta))
		for k, v := range meta {
			md[k] = v
		}
		points = append(points, retrieval.Point{
			ID:       uuid.NewString(),
			Vector:   vec,
			Document: models.Document{Content: chunk, Metadata: md},
		})
	}
	return points, nil
}
