package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	DisplayName string
	Role        string
}

type ComplianceAssessment struct {
	ID        string
	Name      string
	Framework string
	UpdatedAt time.Time
}

type Requirement struct {
	ID           string
	URN          string
	RefID        string
	Name         string
	DisplayShort string
	Description  string
	Assessable   bool
}

type RequirementAssessment struct {
	ID                     string
	ComplianceAssessmentID string
	RequirementID          string
	Status                 string
	Result                 string
	Observation            string
	// Answer is the raw questionnaire bundle; nil when the requirement has
	// no questions.
	Answer    json.RawMessage
	Evidences []EvidenceLink
	UpdatedAt time.Time
}

type EvidenceLink struct {
	ID   string
	Name string
}

type Attachment struct {
	Key         string
	Name        string
	ContentType string
	Size        int64
}

type Evidence struct {
	ID                       string
	Name                     string
	Description              string
	Attachment               *Attachment
	RequirementAssessmentIDs []string
	ComplianceAssessmentIDs  []string
	CreatedAt                time.Time
}

// RequirementAssessmentPatch carries the fields of a partial update. Nil
// fields are left untouched; SetAnswer distinguishes a cleared answer from an
// absent one.
type RequirementAssessmentPatch struct {
	Status      *string
	Result      *string
	Observation *string
	SetAnswer   bool
	Answer      json.RawMessage
	UpdatedBy   string
}
