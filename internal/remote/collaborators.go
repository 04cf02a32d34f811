package remote

import (
	"context"
	"sync"

	"attest/api/internal/assessment"
)

// Confirmer decides whether a pending deletion goes ahead.
type Confirmer func(req assessment.DeletionRequest) bool

// DeletionPrompt submits the deletion form once the user confirms it.
type DeletionPrompt struct {
	client  *Client
	confirm Confirmer
}

func NewDeletionPrompt(client *Client, confirm Confirmer) *DeletionPrompt {
	return &DeletionPrompt{client: client, confirm: confirm}
}

func (p *DeletionPrompt) ConfirmDeletion(ctx context.Context, req assessment.DeletionRequest) error {
	if p.confirm != nil && !p.confirm(req) {
		return nil
	}
	return p.client.submitDeletion(ctx, req.Action, req.ID)
}

// PageReloader refetches a compliance assessment and hands the fresh page to
// its callback.
type PageReloader struct {
	client                 *Client
	complianceAssessmentID string

	mu     sync.Mutex
	onLoad func(assessment.Page)
}

func NewPageReloader(client *Client, complianceAssessmentID string, onLoad func(assessment.Page)) *PageReloader {
	return &PageReloader{client: client, complianceAssessmentID: complianceAssessmentID, onLoad: onLoad}
}

func (r *PageReloader) Reload(ctx context.Context) error {
	page, err := r.client.LoadPage(ctx, r.complianceAssessmentID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onLoad != nil {
		r.onLoad(page)
	}
	return nil
}
