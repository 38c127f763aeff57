package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// SearchMode selects how SearchSimilar scores candidate records.
type SearchMode string

const (
	// SearchModeText ranks by case-insensitive substring match count against
	// the record's key and serialized data.
	SearchModeText SearchMode = "text"
	// SearchModeVector ranks by cosine similarity against query vectors of
	// the same dimensionality as the record's embedding.
	SearchModeVector SearchMode = "vector"
)

// SearchQuery parameterizes SearchSimilar.
type SearchQuery struct {
	Mode     SearchMode
	Text     string
	Vector   []float64
	Category string // optional filter, empty matches every category
	Limit    int    // negative = unbounded, 0 = no results, positive = top-N
}

type scoredRecord struct {
	record domain.MemoryRecord
	score  float64
}

// searchSimilar loads every record the agent may read (optionally filtered
// to category), scores each per query.Mode, and returns the top Limit
// ordered by score descending, tie-broken by createdAt descending then
// recordId descending so results are stable across equal scores.
func (s *store) searchSimilar(ctx context.Context, agent domain.AgentID, query SearchQuery) ([]domain.MemoryRecord, error) {
	candidates, err := s.listReadable(ctx, query.Category, agent)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		var score float64
		switch query.Mode {
		case SearchModeVector:
			if len(rec.EmbeddingVector) == 0 || len(rec.EmbeddingVector) != len(query.Vector) {
				continue
			}
			score = cosineSimilarity(query.Vector, rec.EmbeddingVector)
		default:
			score = float64(textMatchCount(query.Text, rec))
			if score <= 0 {
				continue
			}
		}
		scored = append(scored, scoredRecord{record: rec, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].record.CreatedAt.Equal(scored[j].record.CreatedAt) {
			return scored[i].record.CreatedAt.After(scored[j].record.CreatedAt)
		}
		return scored[i].record.RecordID > scored[j].record.RecordID
	})

	// A negative Limit means "unset, use every match"; an explicit zero
	// means "return no results".
	limit := query.Limit
	if limit == 0 {
		return []domain.MemoryRecord{}, nil
	}
	if limit < 0 || limit > len(scored) {
		limit = len(scored)
	}
	results := make([]domain.MemoryRecord, limit)
	for i := 0; i < limit; i++ {
		results[i] = scored[i].record
	}
	return results, nil
}

func textMatchCount(query string, rec domain.MemoryRecord) int {
	if query == "" {
		return 0
	}
	needle := strings.ToLower(query)
	haystack := strings.ToLower(rec.Key + " " + rec.Data)
	count := 0
	for {
		idx := strings.Index(haystack, needle)
		if idx < 0 {
			break
		}
		count++
		haystack = haystack[idx+len(needle):]
	}
	return count
}

// cosineSimilarity returns 0 for vectors of differing length or zero
// magnitude, rather than erroring. searchSimilar never ranks a record whose
// embedding is missing or of a different length in vector mode.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
