package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"attest/api/internal/assessment"
	"attest/api/internal/rbac"
	"attest/api/internal/store"
)

// UpdateRequirementAssessment applies one partial-field update. The body
// carries the record id and any of status, result, observation and answer.
// It returns the compliance assessment that owns the record.
func (s *Service) UpdateRequirementAssessment(ctx context.Context, session Session, id string, body map[string]json.RawMessage) (string, error) {
	var bodyID string
	if raw, ok := body["id"]; ok {
		if err := json.Unmarshal(raw, &bodyID); err != nil {
			return "", validationError("VALIDATION_ERROR", "id must be a string", nil)
		}
	}
	if bodyID != id {
		return "", validationError("ID_MISMATCH", "body id does not match the requirement assessment", map[string]any{"id": bodyID})
	}

	patch := store.RequirementAssessmentPatch{UpdatedBy: session.UserID}
	fields := make([]string, 0, len(body))
	for key, raw := range body {
		if key == "id" {
			continue
		}
		field := assessment.Field(key)
		if !field.Valid() {
			return "", validationError("UNKNOWN_FIELD", "field cannot be updated", map[string]any{"field": key})
		}
		if err := s.require(session, fieldAction(field)); err != nil {
			return "", err
		}
		if err := applyField(&patch, field, raw); err != nil {
			return "", err
		}
		fields = append(fields, key)
	}
	if len(fields) == 0 {
		return "", validationError("VALIDATION_ERROR", "no field to update", nil)
	}

	complianceAssessmentID, err := s.store.PatchRequirementAssessment(ctx, id, patch)
	if err != nil {
		return "", err
	}
	s.invalidate(ctx, complianceAssessmentID)

	sort.Strings(fields)
	log.Printf("assessment: %s updated %v of %s", session.UserID, fields, id)
	return complianceAssessmentID, nil
}

// fieldAction is the permission needed to write field. Status and result are
// the assessor's verdict; observation and answer belong to the respondent.
func fieldAction(field assessment.Field) rbac.Action {
	switch field {
	case assessment.FieldStatus, assessment.FieldResult:
		return rbac.ActionAssess
	default:
		return rbac.ActionAnswer
	}
}

func applyField(patch *store.RequirementAssessmentPatch, field assessment.Field, raw json.RawMessage) error {
	switch field {
	case assessment.FieldStatus:
		var value assessment.Status
		if err := json.Unmarshal(raw, &value); err != nil || !value.Valid() {
			return invalidValue(field, raw)
		}
		v := string(value)
		patch.Status = &v
	case assessment.FieldResult:
		var value assessment.Result
		if err := json.Unmarshal(raw, &value); err != nil || !value.Valid() {
			return invalidValue(field, raw)
		}
		v := string(value)
		patch.Result = &v
	case assessment.FieldObservation:
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return invalidValue(field, raw)
		}
		patch.Observation = &value
	case assessment.FieldAnswer:
		patch.SetAnswer = true
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil
		}
		var value assessment.Answer
		if err := json.Unmarshal(raw, &value); err != nil {
			return invalidValue(field, raw)
		}
		if err := value.Validate(); err != nil {
			return validationError("INVALID_VALUE", err.Error(), map[string]any{"field": string(field)})
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode answer: %w", err)
		}
		patch.Answer = encoded
	}
	return nil
}

func invalidValue(field assessment.Field, raw json.RawMessage) error {
	return validationError("INVALID_VALUE", "invalid value", map[string]any{
		"field": string(field),
		"value": string(raw),
	})
}
