package search

import (
	"context"
	"log"
)

// Backend is a search engine that can also be written to.
type Backend interface {
	Searcher
	Indexer
}

type bulkIndexer interface {
	IndexEvidences(records []EvidenceRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   func(ctx context.Context) ([]EvidenceRecord, error)
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Backend, fallback *PgFTS) *Service {
	s := &Service{primary: primary}
	if fallback != nil {
		s.fallback = fallback
		s.loader = fallback.LoadAllRecords
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEvidence indexes an evidence (fire-and-forget to Meilisearch).
func (s *Service) IndexEvidence(ev EvidenceRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexEvidence(ev); err != nil {
			log.Printf("search: index evidence %s: %v", ev.ID, err)
		}
	}()
}

// DeleteEvidence removes an evidence from the search index (fire-and-forget).
func (s *Service) DeleteEvidence(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteEvidence(id); err != nil {
			log.Printf("search: delete evidence %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG pushes every evidence from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryHealthy() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if bulk, ok := s.primary.(bulkIndexer); ok {
		if err := bulk.IndexEvidences(records); err != nil {
			log.Printf("search: reindex failed: %v", err)
			return
		}
	} else {
		for _, record := range records {
			if err := s.primary.IndexEvidence(record); err != nil {
				log.Printf("search: reindex evidence %s: %v", record.ID, err)
				return
			}
		}
	}
	log.Printf("search: reindexed %d evidences", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
