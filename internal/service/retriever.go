package service

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
)

// SearchKnowledge runs tenant-scoped similarity search over the embedded
// corpus. Retrieval is non-critical: every failure degrades to "no
// additional context".
func (s *Service) SearchKnowledge(ctx context.Context, query, tenantID string) []domain.RetrievedChunk {
	if s.embedder == nil {
		return nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, skipping retrieval", zap.Error(err))
		return nil
	}

	chunks, err := s.store.ListKnowledgeChunks(ctx, tenantID)
	if err != nil {
		s.logger.Warn("knowledge chunk listing failed, skipping retrieval", zap.Error(err))
		return nil
	}

	var results []domain.RetrievedChunk
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(queryVec, chunk.Embedding)
		if score < s.config.RetrievalMinScore {
			continue
		}
		results = append(results, domain.RetrievedChunk{
			Title:    chunk.Title,
			Category: chunk.Category,
			Content:  chunk.Content,
			Score:    score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	topK := s.config.RetrievalTopK
	if topK <= 0 {
		topK = 4
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
