package app

import (
	"context"

	"attest/api/internal/assessment"
	"attest/api/internal/export"
)

// exportStore reads report data for the export service.
type exportStore struct {
	store dataStore
}

func (e exportStore) GetAssessment(ctx context.Context, complianceAssessmentID string) (export.Assessment, error) {
	ca, err := e.store.GetComplianceAssessment(ctx, complianceAssessmentID)
	if err != nil {
		return export.Assessment{}, err
	}
	return export.Assessment{ID: ca.ID, Name: ca.Name, Framework: ca.Framework, UpdatedAt: ca.UpdatedAt}, nil
}

func (e exportStore) ListRows(ctx context.Context, complianceAssessmentID string) ([]export.Row, error) {
	requirements, err := e.store.ListRequirements(ctx, complianceAssessmentID)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListRequirementAssessments(ctx, complianceAssessmentID)
	if err != nil {
		return nil, err
	}
	evidences, err := e.store.ListEvidences(ctx, complianceAssessmentID)
	if err != nil {
		return nil, err
	}

	attachmentKeys := make(map[string]string, len(evidences))
	for _, ev := range evidences {
		if ev.Attachment != nil {
			attachmentKeys[ev.ID] = ev.Attachment.Key
		}
	}
	defs := make([]assessment.RequirementDefinition, 0, len(requirements))
	for _, req := range requirements {
		defs = append(defs, requirementDefinition(req))
	}
	index := assessment.NewIndex(defs)

	rows := make([]export.Row, 0, len(records))
	for _, record := range records {
		def, _ := index.Lookup(record.RequirementID)
		row := export.Row{
			RefID:       def.RefID,
			Title:       assessment.DisplayTitle(def.DisplayShort, def.Name),
			Description: def.Description,
			Assessable:  def.Assessable,
			Status:      record.Status,
			Result:      record.Result,
			Observation: record.Observation,
		}
		answer, err := decodeAnswer(record.Answer)
		if err != nil {
			return nil, err
		}
		if answer != nil {
			for _, q := range answer.Questions {
				qa := export.QuestionAnswer{Text: q.Text}
				if q.Answer != nil {
					qa.Answer = *q.Answer
				}
				row.Questions = append(row.Questions, qa)
			}
		}
		for _, ev := range record.Evidences {
			row.Evidences = append(row.Evidences, export.Evidence{
				ID:            ev.ID,
				Name:          ev.Name,
				AttachmentKey: attachmentKeys[ev.ID],
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}
