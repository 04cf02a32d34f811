package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (display_name)
		VALUES ($1)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role FROM users WHERE id=$1`, userID).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetComplianceAssessment(ctx context.Context, id string) (ComplianceAssessment, error) {
	var ca ComplianceAssessment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, framework, updated_at
		FROM compliance_assessments
		WHERE id = $1
	`, id).Scan(&ca.ID, &ca.Name, &ca.Framework, &ca.UpdatedAt)
	if err != nil {
		return ComplianceAssessment{}, err
	}
	return ca, nil
}

// ListRequirements returns the requirement definitions assessed by a
// compliance assessment, in framework order.
func (s *PostgresStore) ListRequirements(ctx context.Context, complianceAssessmentID string) ([]Requirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.urn, r.ref_id, r.name, r.display_short, r.description, r.assessable
		FROM requirements r
		JOIN requirement_assessments ra ON ra.requirement_id = r.id
		WHERE ra.compliance_assessment_id = $1
		ORDER BY r.sort_order, r.id
	`, complianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	items := make([]Requirement, 0)
	for rows.Next() {
		var r Requirement
		if err := rows.Scan(&r.ID, &r.URN, &r.RefID, &r.Name, &r.DisplayShort, &r.Description, &r.Assessable); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListRequirementAssessments(ctx context.Context, complianceAssessmentID string) ([]RequirementAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ra.id, ra.compliance_assessment_id, ra.requirement_id, ra.status, ra.result, ra.observation, ra.answer, ra.updated_at
		FROM requirement_assessments ra
		JOIN requirements r ON r.id = ra.requirement_id
		WHERE ra.compliance_assessment_id = $1
		ORDER BY r.sort_order, ra.id
	`, complianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list requirement assessments: %w", err)
	}
	defer rows.Close()

	items := make([]RequirementAssessment, 0)
	byID := map[string]int{}
	for rows.Next() {
		ra, err := scanRequirementAssessment(rows)
		if err != nil {
			return nil, err
		}
		byID[ra.ID] = len(items)
		items = append(items, ra)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := s.db.QueryContext(ctx, `
		SELECT rae.requirement_assessment_id, e.id, e.name
		FROM requirement_assessment_evidences rae
		JOIN evidences e ON e.id = rae.evidence_id
		JOIN requirement_assessments ra ON ra.id = rae.requirement_assessment_id
		WHERE ra.compliance_assessment_id = $1
		ORDER BY rae.linked_at, e.id
	`, complianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list evidence links: %w", err)
	}
	defer links.Close()

	for links.Next() {
		var raID string
		var link EvidenceLink
		if err := links.Scan(&raID, &link.ID, &link.Name); err != nil {
			return nil, fmt.Errorf("scan evidence link: %w", err)
		}
		if i, ok := byID[raID]; ok {
			items[i].Evidences = append(items[i].Evidences, link)
		}
	}
	return items, links.Err()
}

func (s *PostgresStore) GetRequirementAssessment(ctx context.Context, id string) (RequirementAssessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, compliance_assessment_id, requirement_id, status, result, observation, answer, updated_at
		FROM requirement_assessments
		WHERE id = $1
	`, id)
	return scanRequirementAssessment(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirementAssessment(row rowScanner) (RequirementAssessment, error) {
	var ra RequirementAssessment
	var answer []byte
	if err := row.Scan(&ra.ID, &ra.ComplianceAssessmentID, &ra.RequirementID, &ra.Status, &ra.Result, &ra.Observation, &answer, &ra.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RequirementAssessment{}, err
		}
		return RequirementAssessment{}, fmt.Errorf("scan requirement assessment: %w", err)
	}
	if len(answer) > 0 {
		ra.Answer = answer
	}
	ra.Evidences = []EvidenceLink{}
	return ra, nil
}

// PatchRequirementAssessment applies a partial update and returns the owning
// compliance assessment id.
func (s *PostgresStore) PatchRequirementAssessment(ctx context.Context, id string, patch RequirementAssessmentPatch) (string, error) {
	var answer any
	if patch.SetAnswer {
		if len(patch.Answer) == 0 {
			answer = "null"
		} else {
			answer = string(patch.Answer)
		}
	}

	var complianceAssessmentID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE requirement_assessments
		SET status = COALESCE($2, status),
			result = COALESCE($3, result),
			observation = COALESCE($4, observation),
			answer = CASE WHEN $5::boolean THEN $6::jsonb ELSE answer END,
			updated_by = NULLIF($7, '')::uuid,
			updated_at = NOW()
		WHERE id = $1
		RETURNING compliance_assessment_id
	`, id, patch.Status, patch.Result, patch.Observation, patch.SetAnswer, answer, patch.UpdatedBy).Scan(&complianceAssessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("patch requirement assessment %s: %w", id, err)
	}
	return complianceAssessmentID, nil
}

// CreateEvidence stores the evidence and links it to the given requirement
// assessments. It returns the compliance assessments whose lists changed.
func (s *PostgresStore) CreateEvidence(ctx context.Context, evidence Evidence, createdBy string) (Evidence, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Evidence{}, nil, fmt.Errorf("begin evidence tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO evidences (id, name, description, created_by)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid)
		RETURNING created_at
	`, evidence.ID, evidence.Name, evidence.Description, createdBy).Scan(&evidence.CreatedAt)
	if err != nil {
		return Evidence{}, nil, fmt.Errorf("insert evidence: %w", err)
	}

	affected := make([]string, 0, len(evidence.RequirementAssessmentIDs))
	seen := map[string]bool{}
	for _, raID := range evidence.RequirementAssessmentIDs {
		var caID string
		err := tx.QueryRowContext(ctx, `SELECT compliance_assessment_id FROM requirement_assessments WHERE id = $1`, raID).Scan(&caID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return Evidence{}, nil, fmt.Errorf("lookup requirement assessment %s: %w", raID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO requirement_assessment_evidences (requirement_assessment_id, evidence_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, raID, evidence.ID); err != nil {
			return Evidence{}, nil, fmt.Errorf("link evidence to %s: %w", raID, err)
		}
		if !seen[caID] {
			seen[caID] = true
			affected = append(affected, caID)
		}
	}

	if err := tx.Commit(); err != nil {
		return Evidence{}, nil, fmt.Errorf("commit evidence: %w", err)
	}
	return evidence, affected, nil
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (Evidence, error) {
	var (
		ev             Evidence
		key, name, typ sql.NullString
		size           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, attachment_key, attachment_name, attachment_type, attachment_size, created_at
		FROM evidences
		WHERE id = $1
	`, id).Scan(&ev.ID, &ev.Name, &ev.Description, &key, &name, &typ, &size, &ev.CreatedAt)
	if err != nil {
		return Evidence{}, err
	}
	if key.Valid {
		ev.Attachment = &Attachment{Key: key.String, Name: name.String, ContentType: typ.String, Size: size.Int64}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rae.requirement_assessment_id, ra.compliance_assessment_id
		FROM requirement_assessment_evidences rae
		JOIN requirement_assessments ra ON ra.id = rae.requirement_assessment_id
		WHERE rae.evidence_id = $1
		ORDER BY rae.linked_at, rae.requirement_assessment_id
	`, id)
	if err != nil {
		return Evidence{}, fmt.Errorf("list evidence links: %w", err)
	}
	defer rows.Close()
	ev.RequirementAssessmentIDs = []string{}
	ev.ComplianceAssessmentIDs = []string{}
	seen := map[string]bool{}
	for rows.Next() {
		var raID, caID string
		if err := rows.Scan(&raID, &caID); err != nil {
			return Evidence{}, fmt.Errorf("scan evidence link: %w", err)
		}
		ev.RequirementAssessmentIDs = append(ev.RequirementAssessmentIDs, raID)
		if !seen[caID] {
			seen[caID] = true
			ev.ComplianceAssessmentIDs = append(ev.ComplianceAssessmentIDs, caID)
		}
	}
	return ev, rows.Err()
}

// DeleteEvidence removes the evidence and its links. The deleted row is
// returned so the caller can clean up its attachment, together with the
// compliance assessments that listed it.
func (s *PostgresStore) DeleteEvidence(ctx context.Context, id string) (Evidence, []string, error) {
	ev, err := s.GetEvidence(ctx, id)
	if err != nil {
		return Evidence{}, nil, err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM evidences WHERE id = $1`, id)
	if err != nil {
		return Evidence{}, nil, fmt.Errorf("delete evidence: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return Evidence{}, nil, sql.ErrNoRows
	}
	return ev, ev.ComplianceAssessmentIDs, nil
}

func (s *PostgresStore) SetEvidenceAttachment(ctx context.Context, id string, attachment Attachment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET attachment_key = $2, attachment_name = $3, attachment_type = $4, attachment_size = $5, updated_at = NOW()
		WHERE id = $1
	`, id, attachment.Key, attachment.Name, attachment.ContentType, attachment.Size)
	if err != nil {
		return fmt.Errorf("set evidence attachment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ClearEvidenceAttachment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET attachment_key = NULL, attachment_name = NULL, attachment_type = NULL, attachment_size = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear evidence attachment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListEvidences returns every evidence linked to a compliance assessment.
func (s *PostgresStore) ListEvidences(ctx context.Context, complianceAssessmentID string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.id
		FROM evidences e
		JOIN requirement_assessment_evidences rae ON rae.evidence_id = e.id
		JOIN requirement_assessments ra ON ra.id = rae.requirement_assessment_id
		WHERE ra.compliance_assessment_id = $1
		ORDER BY e.id
	`, complianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list evidences: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan evidence id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]Evidence, 0, len(ids))
	for _, id := range ids {
		ev, err := s.GetEvidence(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, ev)
	}
	return items, nil
}
