package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"attest/api/internal/assessment"
	"attest/api/internal/cache"
	"attest/api/internal/rbac"
	"attest/api/internal/store"
)

var deleteForm = mustJSON(map[string]string{"action": assessment.DeleteEvidenceAction})

// RequirementsList returns the encoded initial payload of a compliance
// assessment page. Encoded payloads are cached until an edit touches the
// assessment or the entry expires.
func (s *Service) RequirementsList(ctx context.Context, session Session, complianceAssessmentID string) ([]byte, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	key := cache.RequirementsListKey(complianceAssessmentID)
	if data, ok := s.cache.Get(ctx, key); ok {
		return data, nil
	}

	page, err := s.loadPage(ctx, complianceAssessmentID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode requirements list: %w", err)
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		log.Printf("cache: store %s: %v", key, err)
	}
	return data, nil
}

func (s *Service) loadPage(ctx context.Context, complianceAssessmentID string) (assessment.Page, error) {
	if _, err := s.store.GetComplianceAssessment(ctx, complianceAssessmentID); err != nil {
		return assessment.Page{}, err
	}
	requirements, err := s.store.ListRequirements(ctx, complianceAssessmentID)
	if err != nil {
		return assessment.Page{}, err
	}
	records, err := s.store.ListRequirementAssessments(ctx, complianceAssessmentID)
	if err != nil {
		return assessment.Page{}, err
	}

	page := assessment.Page{
		Requirements:           make([]assessment.RequirementDefinition, 0, len(requirements)),
		RequirementAssessments: make([]assessment.RequirementAssessment, 0, len(records)),
		EvidenceModel:          assessment.ModelInfo{URLModel: "evidences", VerboseName: "Evidence"},
		DeleteForm:             deleteForm,
	}
	byID := make(map[string]store.Requirement, len(requirements))
	for _, req := range requirements {
		byID[req.ID] = req
		page.Requirements = append(page.Requirements, requirementDefinition(req))
	}
	for _, record := range records {
		ra, err := requirementAssessment(record, byID[record.RequirementID])
		if err != nil {
			return assessment.Page{}, err
		}
		page.RequirementAssessments = append(page.RequirementAssessments, ra)
	}
	return page, nil
}

func requirementDefinition(req store.Requirement) assessment.RequirementDefinition {
	return assessment.RequirementDefinition{
		ID:           req.ID,
		URN:          req.URN,
		RefID:        req.RefID,
		Name:         req.Name,
		DisplayShort: req.DisplayShort,
		Description:  req.Description,
		Assessable:   req.Assessable,
	}
}

// requirementAssessment converts a stored record. The requirement's display
// fields are copied onto the record so clients can render it even when the
// definition is missing from their index.
func requirementAssessment(record store.RequirementAssessment, req store.Requirement) (assessment.RequirementAssessment, error) {
	ra := assessment.RequirementAssessment{
		ID:           record.ID,
		Requirement:  record.RequirementID,
		Name:         req.Name,
		DisplayShort: req.DisplayShort,
		Description:  req.Description,
		Status:       assessment.Status(record.Status),
		Result:       assessment.Result(record.Result),
		Observation:  record.Observation,
		Evidences:    make([]assessment.EvidenceRef, 0, len(record.Evidences)),
	}
	if !ra.Status.Valid() {
		ra.Status = assessment.StatusToDo
	}
	if !ra.Result.Valid() {
		ra.Result = assessment.ResultNotAssessed
	}
	answer, err := decodeAnswer(record.Answer)
	if err != nil {
		return assessment.RequirementAssessment{}, fmt.Errorf("requirement assessment %s: %w", record.ID, err)
	}
	ra.Answer = answer
	for _, ev := range record.Evidences {
		ra.Evidences = append(ra.Evidences, assessment.EvidenceRef{ID: ev.ID, Str: ev.Name})
	}
	return ra, nil
}

func decodeAnswer(raw json.RawMessage) (*assessment.Answer, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var answer assessment.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return &answer, nil
}

type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var statusLabels = map[assessment.Status]string{
	assessment.StatusToDo:       "To do",
	assessment.StatusInProgress: "In progress",
	assessment.StatusInReview:   "In review",
	assessment.StatusDone:       "Done",
}

var resultLabels = map[assessment.Result]string{
	assessment.ResultNotAssessed:        "Not assessed",
	assessment.ResultNonCompliant:       "Non compliant",
	assessment.ResultPartiallyCompliant: "Partially compliant",
	assessment.ResultCompliant:          "Compliant",
	assessment.ResultNotApplicable:      "Not applicable",
}

func StatusChoices() []Choice {
	out := make([]Choice, 0, len(assessment.Statuses))
	for _, s := range assessment.Statuses {
		out = append(out, Choice{Value: string(s), Label: statusLabels[s]})
	}
	return out
}

func ResultChoices() []Choice {
	out := make([]Choice, 0, len(assessment.Results))
	for _, r := range assessment.Results {
		out = append(out, Choice{Value: string(r), Label: resultLabels[r]})
	}
	return out
}
