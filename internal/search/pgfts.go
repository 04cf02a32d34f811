package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the evidences table. Full-text matches rank
// first; substring matches on the name catch partial words.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `(to_tsvector('simple', e.name || ' ' || e.description) @@ plainto_tsquery('simple', $1)
		OR e.name ILIKE '%' || $1 || '%')`
	args := []any{q.Text}
	if q.ComplianceAssessmentID != "" {
		where += ` AND EXISTS (
			SELECT 1 FROM requirement_assessment_evidences rae
			JOIN requirement_assessments ra ON ra.id = rae.requirement_assessment_id
			WHERE rae.evidence_id = e.id AND ra.compliance_assessment_id = $2)`
		args = append(args, q.ComplianceAssessmentID)
	}

	var total int
	if err := p.db.QueryRow(`SELECT COUNT(*) FROM evidences e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := p.db.Query(fmt.Sprintf(`
		SELECT e.id, e.name,
			ts_headline('simple', e.description, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			e.attachment_key IS NOT NULL AS has_attachment
		FROM evidences e
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', e.name || ' ' || e.description), plainto_tsquery('simple', $1)) DESC, LOWER(e.name), e.id
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.HasAttachment); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every evidence for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EvidenceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.description, COALESCE(e.attachment_name, ''),
			COALESCE(string_agg(DISTINCT ra.id, ','), ''),
			COALESCE(string_agg(DISTINCT ra.compliance_assessment_id, ','), '')
		FROM evidences e
		LEFT JOIN requirement_assessment_evidences rae ON rae.evidence_id = e.id
		LEFT JOIN requirement_assessments ra ON ra.id = rae.requirement_assessment_id
		GROUP BY e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load evidences: %w", err)
	}
	defer rows.Close()

	records := make([]EvidenceRecord, 0)
	for rows.Next() {
		var r EvidenceRecord
		var raIDs, caIDs string
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.AttachmentName, &raIDs, &caIDs); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		r.RequirementAssessments = splitList(raIDs)
		r.ComplianceAssessments = splitList(caIDs)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidences: %w", err)
	}
	return records, nil
}

func splitList(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}
