package assessment

import (
	"context"
	"fmt"
	"sync/atomic"
)

// DeleteEvidenceAction is the action the deletion confirmation submits to.
const DeleteEvidenceAction = "/evidences?/delete"

type Options struct {
	// Shallow renders read-only and reflects created evidence in place.
	Shallow           bool
	QuestionnaireOnly bool
	AssessmentOnly    bool
	// InvalidateAll asks for a full reload after evidence creation.
	InvalidateAll bool
	ActionPath    string
}

// Loader supplies the initial record set.
type Loader interface {
	LoadPage(ctx context.Context, complianceAssessmentID string) (Page, error)
}

// Reloader revalidates all page data from the remote store.
type Reloader interface {
	Reload(ctx context.Context) error
}

type DeletionRequest struct {
	Action string
	ID     string
	Name   string
}

// DeletionPrompt asks the user to confirm an evidence deletion and performs
// it on acceptance.
type DeletionPrompt interface {
	ConfirmDeletion(ctx context.Context, req DeletionRequest) error
}

// View is one rendered compliance assessment page.
type View struct {
	board             *Board
	opts              Options
	questionnaireMode atomic.Bool
	reloader          Reloader
	prompt            DeletionPrompt
}

func NewView(page Page, opts Options, submitter Submitter, reloader Reloader, prompt DeletionPrompt) *View {
	v := &View{
		board:    NewBoard(page, opts.ActionPath, submitter),
		opts:     opts,
		reloader: reloader,
		prompt:   prompt,
	}
	v.questionnaireMode.Store(InitialQuestionnaireMode(ModeInputs{
		QuestionnaireOnly: opts.QuestionnaireOnly,
		AssessmentOnly:    opts.AssessmentOnly,
		ThirdParty:        page.Viewer.ThirdParty,
	}))
	return v
}

// Open loads a compliance assessment and builds its view.
func Open(ctx context.Context, loader Loader, complianceAssessmentID string, opts Options, submitter Submitter, reloader Reloader, prompt DeletionPrompt) (*View, error) {
	page, err := loader.LoadPage(ctx, complianceAssessmentID)
	if err != nil {
		return nil, fmt.Errorf("load compliance assessment %s: %w", complianceAssessmentID, err)
	}
	return NewView(page, opts, submitter, reloader, prompt), nil
}

func (v *View) Board() *Board { return v.board }

func (v *View) Options() Options { return v.opts }

func (v *View) QuestionnaireMode() bool {
	return v.questionnaireMode.Load()
}

func (v *View) SetQuestionnaireMode(on bool) {
	v.questionnaireMode.Store(on)
}

// ToggleQuestionnaireMode flips the mode switch and returns the new mode.
func (v *View) ToggleQuestionnaireMode() bool {
	for {
		current := v.questionnaireMode.Load()
		if v.questionnaireMode.CompareAndSwap(current, !current) {
			return !current
		}
	}
}

func (v *View) writable() error {
	if v.opts.Shallow {
		return ErrReadOnly
	}
	return nil
}

// verdictEditable reports whether status and result may be changed.
func (v *View) verdictEditable() error {
	if err := v.writable(); err != nil {
		return err
	}
	if v.QuestionnaireMode() {
		return ErrQuestionnaireMode
	}
	return nil
}

func (v *View) SelectStatus(id string, clicked Status) (Status, error) {
	if err := v.verdictEditable(); err != nil {
		return "", err
	}
	return v.board.SelectStatus(id, clicked)
}

func (v *View) SelectResult(id string, clicked Result) (Result, error) {
	if err := v.verdictEditable(); err != nil {
		return "", err
	}
	return v.board.SelectResult(id, clicked)
}

func (v *View) SelectChoice(id, questionURN, clicked string) (*string, error) {
	if err := v.writable(); err != nil {
		return nil, err
	}
	return v.board.SelectChoice(id, questionURN, clicked)
}

// SetAnswer writes a date or free-text answer; nil clears it.
func (v *View) SetAnswer(id, questionURN string, answer *string) error {
	if err := v.writable(); err != nil {
		return err
	}
	return v.board.ApplyAnswer(id, questionURN, answer)
}

func (v *View) EditObservation(id, text string) error {
	if err := v.writable(); err != nil {
		return err
	}
	return v.board.EditObservation(id, text)
}

func (v *View) SaveObservation(id string) error {
	if err := v.writable(); err != nil {
		return err
	}
	return v.board.SaveObservation(id)
}

func (v *View) CancelObservation(id string) error {
	return v.board.CancelObservation(id)
}

// HandleEvidenceCreated receives the creation confirmation of the evidence
// modal. A shallow view merges it in place; otherwise the page is reloaded
// when InvalidateAll is set. It reports whether the local state was merged.
func (v *View) HandleEvidenceCreated(ctx context.Context, created CreatedEvidence) (bool, error) {
	if v.opts.Shallow {
		return v.board.MergeEvidence(created), nil
	}
	if v.opts.InvalidateAll && v.reloader != nil {
		if err := v.reloader.Reload(ctx); err != nil {
			return false, fmt.Errorf("reload after evidence %s: %w", created.ID, err)
		}
	}
	return false, nil
}

// RequestEvidenceDeletion removes the evidence from every assessment and then
// opens the confirmation prompt. The local removal is not undone when the
// prompt is dismissed or the deletion fails.
func (v *View) RequestEvidenceDeletion(ctx context.Context, evidenceID, name string) error {
	v.board.RemoveEvidence(evidenceID)
	if v.prompt == nil {
		return nil
	}
	return v.prompt.ConfirmDeletion(ctx, DeletionRequest{
		Action: DeleteEvidenceAction,
		ID:     evidenceID,
		Name:   name,
	})
}

// Row is the render model of one assessment.
type Row struct {
	ID                string
	Title             string
	Description       string
	Assessable        bool
	Status            Status
	Result            Result
	Questions         []Question
	Observation       string
	ObservationBuffer string
	ObservationDirty  bool
	Evidences         []EvidenceRef
	EvidenceRevision  uint64

	Editable         bool
	ShowStatusResult bool
}

func (v *View) Rows() []Row {
	questionnaire := v.QuestionnaireMode()
	index := v.board.Index()
	assessments := v.board.Assessments()
	rows := make([]Row, 0, len(assessments))
	for i := range assessments {
		ra := &assessments[i]
		def := index.Resolve(ra)
		row := Row{
			ID:                ra.ID,
			Title:             DisplayTitle(def.DisplayShort, def.Name),
			Description:       def.Description,
			Assessable:        def.Assessable,
			Status:            ra.Status,
			Result:            ra.Result,
			Observation:       ra.Observation,
			ObservationBuffer: ra.ObservationBuffer,
			ObservationDirty:  ra.ObservationBuffer != ra.Observation,
			Evidences:         ra.Evidences,
			EvidenceRevision:  ra.EvidenceRevision,
			Editable:          !v.opts.Shallow,
			ShowStatusResult:  !questionnaire && def.Assessable,
		}
		if ra.Answer != nil {
			row.Questions = ra.Answer.Questions
		}
		rows = append(rows, row)
	}
	return rows
}
