package export

import (
	"context"
	"fmt"
	"time"

	"attest/api/internal/assessment"
	"attest/api/internal/attachment"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetAssessment(ctx context.Context, complianceAssessmentID string) (Assessment, error)
	ListRows(ctx context.Context, complianceAssessmentID string) ([]Row, error)
}

// Service renders compliance assessment reports
type Service struct {
	store       DataStore
	attachments attachment.Store
	now         func() time.Time
}

// NewService creates a new export service. attachments may be nil, in which
// case ZIP bundles carry the report only.
func NewService(store DataStore, attachments attachment.Store) *Service {
	return &Service{store: store, attachments: attachments, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetAssessment(ctx, req.ComplianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get compliance assessment: %w", err)
	}
	rows, err := s.store.ListRows(ctx, req.ComplianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list requirement assessments: %w", err)
	}

	bundle := req.Format == FormatZIP
	for i := range rows {
		if req.QuestionnaireOnly {
			rows[i].Status = ""
			rows[i].Result = ""
		}
		if bundle {
			for j := range rows[i].Evidences {
				ev := &rows[i].Evidences[j]
				if ev.AttachmentKey != "" {
					ev.Filename = bundlePath(ev.AttachmentKey)
				}
			}
		}
	}

	data := TemplateData{
		Title:             info.Name,
		Framework:         info.Framework,
		GeneratedAt:       s.now(),
		GeneratedBy:       req.GeneratedBy,
		QuestionnaireOnly: req.QuestionnaireOnly,
		Bundle:            bundle,
		Summary:           summarize(rows),
		Rows:              rows,
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(info.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, info.Name)
	case FormatDOCX:
		return exportDOCX(ctx, html, info.Name)
	case FormatZIP:
		return s.exportZIP(ctx, html, info.Name, rows)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// summarize counts assessable rows per result, in the canonical result order.
func summarize(rows []Row) []ResultCount {
	counts := map[string]int{}
	for _, row := range rows {
		if row.Assessable && row.Result != "" {
			counts[row.Result]++
		}
	}
	summary := make([]ResultCount, 0, len(assessment.Results))
	for _, result := range assessment.Results {
		if n := counts[string(result)]; n > 0 {
			summary = append(summary, ResultCount{Result: string(result), Count: n})
		}
	}
	return summary
}
