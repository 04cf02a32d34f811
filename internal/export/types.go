// Package export renders audit reports of a compliance assessment.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	// FormatZIP bundles the HTML report with every evidence attachment.
	FormatZIP Format = "zip"
)

func ParseFormat(value string) (Format, bool) {
	switch f := Format(value); f {
	case FormatHTML, FormatPDF, FormatDOCX, FormatZIP:
		return f, true
	case "":
		return FormatHTML, true
	default:
		return "", false
	}
}

// Request contains parameters for an export operation
type Request struct {
	ComplianceAssessmentID string
	Format                 Format
	// QuestionnaireOnly leaves status and result out of the report, as seen
	// by third-party respondents.
	QuestionnaireOnly bool
	GeneratedBy       string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Assessment is the report header.
type Assessment struct {
	ID        string
	Name      string
	Framework string
	UpdatedAt time.Time
}

// Row is one requirement assessment in the report.
type Row struct {
	RefID       string
	Title       string
	Description string
	Assessable  bool
	Status      string
	Result      string
	Observation string
	Questions   []QuestionAnswer
	Evidences   []Evidence
}

type QuestionAnswer struct {
	Text   string
	Answer string
}

type Evidence struct {
	ID            string
	Name          string
	AttachmentKey string
	Filename      string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("export format not supported")
)
