package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"attest/api/internal/assessment"
	"attest/api/internal/attachment"
	"attest/api/internal/rbac"
	"attest/api/internal/search"
	"attest/api/internal/store"
)

type EvidenceInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
}

// CreateEvidence stores an evidence linked to the given requirement
// assessments and returns the confirmation the page merges.
func (s *Service) CreateEvidence(ctx context.Context, session Session, in EvidenceInput) (assessment.CreatedEvidence, error) {
	if err := s.require(session, rbac.ActionManageEvidence); err != nil {
		return assessment.CreatedEvidence{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return assessment.CreatedEvidence{}, validationError("VALIDATION_ERROR", "name is required", nil)
	}
	requirements := make([]string, 0, len(in.Requirements))
	for _, id := range in.Requirements {
		if id = strings.TrimSpace(id); id != "" {
			requirements = append(requirements, id)
		}
	}

	ev, affected, err := s.store.CreateEvidence(ctx, store.Evidence{
		ID:                       s.newID(),
		Name:                     name,
		Description:              strings.TrimSpace(in.Description),
		RequirementAssessmentIDs: requirements,
	}, session.UserID)
	if err != nil {
		return assessment.CreatedEvidence{}, err
	}
	ev.ComplianceAssessmentIDs = affected
	s.search.IndexEvidence(evidenceRecord(ev))
	s.invalidate(ctx, affected...)

	log.Printf("evidence: %s created %s linked to %d assessment(s)", session.UserID, ev.ID, len(requirements))
	return assessment.CreatedEvidence{
		ID:           ev.ID,
		Name:         ev.Name,
		Requirements: requirements,
	}, nil
}

// DeleteEvidence removes the evidence, its attachment and its index entry.
func (s *Service) DeleteEvidence(ctx context.Context, session Session, id string) error {
	if err := s.require(session, rbac.ActionManageEvidence); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return validationError("VALIDATION_ERROR", "id is required", nil)
	}
	ev, affected, err := s.store.DeleteEvidence(ctx, id)
	if err != nil {
		return err
	}
	if ev.Attachment != nil && s.attachments != nil {
		if err := s.attachments.Delete(ctx, ev.Attachment.Key); err != nil && !errors.Is(err, attachment.ErrNotFound) {
			log.Printf("evidence: delete attachment %s: %v", ev.Attachment.Key, err)
		}
	}
	s.search.DeleteEvidence(id)
	s.invalidate(ctx, affected...)
	log.Printf("evidence: %s deleted %s", session.UserID, id)
	return nil
}

type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) UploadAttachment(ctx context.Context, session Session, evidenceID string, up Upload) (store.Attachment, error) {
	if err := s.require(session, rbac.ActionManageEvidence); err != nil {
		return store.Attachment{}, err
	}
	if s.attachments == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "attachment storage is not configured", nil)
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return store.Attachment{}, err
	}
	if up.ContentType == "" {
		up.ContentType = "application/octet-stream"
	}

	key := attachment.ObjectKey(ev.ID, up.Filename)
	info, err := s.attachments.Put(ctx, key, up.Body, up.Size, up.ContentType)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	att := store.Attachment{Key: info.Key, Name: up.Filename, ContentType: info.ContentType, Size: info.Size}
	if err := s.store.SetEvidenceAttachment(ctx, ev.ID, att); err != nil {
		return store.Attachment{}, err
	}
	if ev.Attachment != nil && ev.Attachment.Key != att.Key {
		if err := s.attachments.Delete(ctx, ev.Attachment.Key); err != nil && !errors.Is(err, attachment.ErrNotFound) {
			log.Printf("evidence: replace attachment %s: %v", ev.Attachment.Key, err)
		}
	}

	ev.Attachment = &att
	s.search.IndexEvidence(evidenceRecord(ev))
	return att, nil
}

// OpenAttachment returns the attachment content. The caller closes it.
func (s *Service) OpenAttachment(ctx context.Context, session Session, evidenceID string) (io.ReadCloser, store.Attachment, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, store.Attachment{}, err
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, store.Attachment{}, err
	}
	if ev.Attachment == nil || s.attachments == nil {
		return nil, store.Attachment{}, notFound("evidence has no attachment")
	}
	body, info, err := s.attachments.Get(ctx, ev.Attachment.Key)
	if err != nil {
		return nil, store.Attachment{}, err
	}
	att := *ev.Attachment
	if info.ContentType != "" {
		att.ContentType = info.ContentType
	}
	att.Size = info.Size
	return body, att, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, session Session, evidenceID string) error {
	if err := s.require(session, rbac.ActionManageEvidence); err != nil {
		return err
	}
	ev, err := s.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		return err
	}
	if ev.Attachment == nil {
		return nil
	}
	if s.attachments != nil {
		if err := s.attachments.Delete(ctx, ev.Attachment.Key); err != nil && !errors.Is(err, attachment.ErrNotFound) {
			return fmt.Errorf("delete attachment: %w", err)
		}
	}
	if err := s.store.ClearEvidenceAttachment(ctx, ev.ID); err != nil {
		return err
	}
	ev.Attachment = nil
	s.search.IndexEvidence(evidenceRecord(ev))
	return nil
}

func (s *Service) SearchEvidences(session Session, q search.Query) (search.Response, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Text = strings.TrimSpace(q.Text)
	return s.search.Search(q), nil
}

func evidenceRecord(ev store.Evidence) search.EvidenceRecord {
	record := search.EvidenceRecord{
		ID:                     ev.ID,
		Name:                   ev.Name,
		Description:            ev.Description,
		RequirementAssessments: ev.RequirementAssessmentIDs,
		ComplianceAssessments:  ev.ComplianceAssessmentIDs,
	}
	if ev.Attachment != nil {
		record.AttachmentName = ev.Attachment.Name
	}
	return record
}
