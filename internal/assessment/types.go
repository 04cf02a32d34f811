// Package assessment holds the in-memory state of one compliance assessment
// page: the requirement assessments being edited, the rules for selecting
// values, and the optimistic synchronization of edits with the remote store.
package assessment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusToDo       Status = "to_do"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
)

// Statuses lists the status enumeration in display order.
var Statuses = []Status{StatusToDo, StatusInProgress, StatusInReview, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}

type Result string

const (
	ResultNotAssessed        Result = "not_assessed"
	ResultNonCompliant       Result = "non_compliant"
	ResultPartiallyCompliant Result = "partially_compliant"
	ResultCompliant          Result = "compliant"
	ResultNotApplicable      Result = "not_applicable"
)

// Results lists the result enumeration in display order.
var Results = []Result{ResultNotAssessed, ResultNonCompliant, ResultPartiallyCompliant, ResultCompliant, ResultNotApplicable}

func (r Result) Valid() bool {
	switch r {
	case ResultNotAssessed, ResultNonCompliant, ResultPartiallyCompliant, ResultCompliant, ResultNotApplicable:
		return true
	}
	return false
}

type QuestionType string

const (
	QuestionUniqueChoice QuestionType = "unique_choice"
	QuestionDate         QuestionType = "date"
	QuestionText         QuestionType = "text"
)

// DateLayout is the wire format of date answers.
const DateLayout = "2006-01-02"

// Field names a persisted field of a requirement assessment.
type Field string

const (
	FieldStatus      Field = "status"
	FieldResult      Field = "result"
	FieldObservation Field = "observation"
	FieldAnswer      Field = "answer"
)

func (f Field) Valid() bool {
	switch f {
	case FieldStatus, FieldResult, FieldObservation, FieldAnswer:
		return true
	}
	return false
}

var (
	ErrUnknownAssessment = errors.New("unknown requirement assessment")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidValue      = errors.New("invalid value")
	ErrReadOnly          = errors.New("view is read-only")
	// ErrQuestionnaireMode rejects status and result edits while only the
	// questionnaire is shown.
	ErrQuestionnaireMode = errors.New("status and result are hidden in questionnaire mode")
)

// RequirementDefinition is immutable reference data for one checklist item.
type RequirementDefinition struct {
	ID           string `json:"id"`
	URN          string `json:"urn,omitempty"`
	RefID        string `json:"ref_id,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayShort string `json:"display_short,omitempty"`
	Description  string `json:"description,omitempty"`
	Assessable   bool   `json:"assessable"`
}

type Question struct {
	URN     string       `json:"urn"`
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Choices []string     `json:"question_choices,omitempty"`
	Answer  *string      `json:"answer"`
}

// Answer is the bundle of questions attached to one assessment. It is
// persisted as a whole, never per question.
type Answer struct {
	Questions []Question `json:"questions"`
}

func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := &Answer{Questions: make([]Question, len(a.Questions))}
	for i, q := range a.Questions {
		q.Choices = append([]string(nil), q.Choices...)
		if q.Answer != nil {
			v := *q.Answer
			q.Answer = &v
		}
		out.Questions[i] = q
	}
	return out
}

// EvidenceRef is the display reference of an evidence attached to an assessment.
type EvidenceRef struct {
	ID  string `json:"id"`
	Str string `json:"str"`
}

type RequirementAssessment struct {
	ID           string        `json:"id"`
	Requirement  string        `json:"requirement"`
	Name         string        `json:"name,omitempty"`
	DisplayShort string        `json:"display_short,omitempty"`
	Description  string        `json:"description,omitempty"`
	Status       Status        `json:"status"`
	Result       Result        `json:"result"`
	Answer       *Answer       `json:"answer,omitempty"`
	Observation  string        `json:"observation"`
	Evidences    []EvidenceRef `json:"evidences"`

	// ObservationBuffer holds an unsaved observation edit.
	ObservationBuffer string `json:"-"`
	// EvidenceRevision increases every time Evidences changes after load.
	EvidenceRevision uint64 `json:"-"`
}

func (ra *RequirementAssessment) clone() RequirementAssessment {
	out := *ra
	out.Answer = ra.Answer.Clone()
	if ra.Evidences != nil {
		out.Evidences = make([]EvidenceRef, len(ra.Evidences))
		copy(out.Evidences, ra.Evidences)
	}
	return out
}

func (ra *RequirementAssessment) hasEvidence(id string) bool {
	for _, ev := range ra.Evidences {
		if ev.ID == id {
			return true
		}
	}
	return false
}

// CreatedEvidence is the confirmation delivered after the evidence creation
// flow succeeds on the server.
type CreatedEvidence struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Requirements []string `json:"requirements"`
}

// ModelInfo describes the evidence model to the creation collaborator.
type ModelInfo struct {
	URLModel    string `json:"urlModel"`
	VerboseName string `json:"verboseName"`
}

// Viewer is the identity the page is rendered for.
type Viewer struct {
	UserID     string `json:"userId"`
	Role       string `json:"role"`
	ThirdParty bool   `json:"thirdParty"`
}

// Page is the initial payload of the data-loading collaborator.
type Page struct {
	Requirements           []RequirementDefinition `json:"requirements"`
	RequirementAssessments []RequirementAssessment `json:"requirement_assessments"`
	EvidenceModel          ModelInfo               `json:"evidenceModel"`
	DeleteForm             json.RawMessage         `json:"deleteForm,omitempty"`
	Viewer                 Viewer                  `json:"-"`
}

// Accepts reports whether answer is a valid answer to q. Nil always is.
func (q Question) Accepts(answer *string) error {
	if answer == nil {
		return nil
	}
	switch q.Type {
	case QuestionUniqueChoice:
		for _, choice := range q.Choices {
			if choice == *answer {
				return nil
			}
		}
		return fmt.Errorf("%w: %q is not a choice of %s", ErrInvalidValue, *answer, q.URN)
	case QuestionDate:
		if !validDate(*answer) {
			return fmt.Errorf("%w: %q is not a %s date", ErrInvalidValue, *answer, DateLayout)
		}
	}
	return nil
}

// Validate checks every answered question of the bundle.
func (a *Answer) Validate() error {
	if a == nil {
		return nil
	}
	for _, q := range a.Questions {
		if err := q.Accepts(q.Answer); err != nil {
			return err
		}
	}
	return nil
}

func validDate(value string) bool {
	_, err := time.Parse(DateLayout, value)
	return err == nil
}
