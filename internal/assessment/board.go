package assessment

import (
	"fmt"
	"strings"
	"sync"
)

type ChangeKind string

const (
	ChangeField             ChangeKind = "field"
	ChangeObservationBuffer ChangeKind = "observation_buffer"
	ChangeEvidence          ChangeKind = "evidence"
)

// Change notifies subscribers that one assessment changed locally.
type Change struct {
	AssessmentID string
	Kind         ChangeKind
	Field        Field
	Revision     uint64
}

// Board owns the requirement assessments of one page. Every mutation goes
// through it: local state is updated first, then the matching partial update
// is handed to the Submitter, which must not block.
type Board struct {
	mu         sync.Mutex
	index      *Index
	actionPath string
	submitter  Submitter
	order      []*RequirementAssessment
	byID       map[string]*RequirementAssessment

	listenerMu   sync.Mutex
	listeners    map[int]func(Change)
	nextListener int
}

// NewBoard copies the loaded assessments into the board. actionPath is the
// prefix of the per-assessment update endpoint.
func NewBoard(page Page, actionPath string, submitter Submitter) *Board {
	b := &Board{
		index:      NewIndex(page.Requirements),
		actionPath: strings.TrimRight(actionPath, "/"),
		submitter:  submitter,
		order:      make([]*RequirementAssessment, 0, len(page.RequirementAssessments)),
		byID:       make(map[string]*RequirementAssessment, len(page.RequirementAssessments)),
		listeners:  make(map[int]func(Change)),
	}
	for i := range page.RequirementAssessments {
		ra := page.RequirementAssessments[i].clone()
		if !ra.Status.Valid() {
			ra.Status = StatusToDo
		}
		if !ra.Result.Valid() {
			ra.Result = ResultNotAssessed
		}
		ra.ObservationBuffer = ra.Observation
		ra.Evidences = dedupeEvidences(ra.Evidences)
		b.order = append(b.order, &ra)
		b.byID[ra.ID] = &ra
	}
	return b
}

func (b *Board) Index() *Index {
	return b.index
}

// ActionPath returns the update endpoint of one assessment.
func (b *Board) ActionPath(assessmentID string) string {
	return b.actionPath + "/" + assessmentID
}

// Subscribe registers fn for every local change. The returned func removes it.
func (b *Board) Subscribe(fn func(Change)) func() {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	return func() {
		b.listenerMu.Lock()
		defer b.listenerMu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Board) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	b.listenerMu.Lock()
	fns := make([]func(Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.listenerMu.Unlock()
	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}

// Assessment returns a copy of one assessment.
func (b *Board) Assessment(id string) (RequirementAssessment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ra, ok := b.byID[id]
	if !ok {
		return RequirementAssessment{}, false
	}
	return ra.clone(), true
}

// Assessments returns copies of all assessments in load order.
func (b *Board) Assessments() []RequirementAssessment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RequirementAssessment, 0, len(b.order))
	for _, ra := range b.order {
		out = append(out, ra.clone())
	}
	return out
}

// mutate runs fn on the assessment under the lock. fn returns the field and
// value to persist; the request is encoded before the lock is released.
func (b *Board) mutate(id string, fn func(ra *RequirementAssessment) (Field, any, error)) error {
	b.mu.Lock()
	ra, ok := b.byID[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAssessment, id)
	}
	field, value, err := fn(ra)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	req, err := Update{
		ActionPath:   b.ActionPath(id),
		AssessmentID: id,
		Field:        field,
		Value:        value,
	}.Encode()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.notify(Change{AssessmentID: id, Kind: ChangeField, Field: field})
	if b.submitter != nil {
		b.submitter.Submit(req)
	}
	return nil
}

// ApplyFieldUpdate sets one top-level field and persists it.
func (b *Board) ApplyFieldUpdate(id string, field Field, value any) error {
	return b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		return assignField(ra, field, value)
	})
}

func assignField(ra *RequirementAssessment, field Field, value any) (Field, any, error) {
	switch field {
	case FieldStatus:
		status, ok := asStatus(value)
		if !ok {
			return "", nil, fmt.Errorf("%w: status %v", ErrInvalidValue, value)
		}
		ra.Status = status
		return field, status, nil
	case FieldResult:
		result, ok := asResult(value)
		if !ok {
			return "", nil, fmt.Errorf("%w: result %v", ErrInvalidValue, value)
		}
		ra.Result = result
		return field, result, nil
	case FieldObservation:
		text, ok := value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: observation must be text", ErrInvalidValue)
		}
		ra.Observation = text
		ra.ObservationBuffer = text
		return field, text, nil
	case FieldAnswer:
		var answer *Answer
		switch v := value.(type) {
		case *Answer:
			answer = v.Clone()
		case Answer:
			answer = v.Clone()
		default:
			return "", nil, fmt.Errorf("%w: answer must be an answer bundle", ErrInvalidValue)
		}
		ra.Answer = answer
		return field, answer.Clone(), nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
}

func asStatus(value any) (Status, bool) {
	var status Status
	switch v := value.(type) {
	case Status:
		status = v
	case string:
		status = Status(v)
	default:
		return "", false
	}
	return status, status.Valid()
}

func asResult(value any) (Result, bool) {
	var result Result
	switch v := value.(type) {
	case Result:
		result = v
	case string:
		result = Result(v)
	default:
		return "", false
	}
	return result, result.Valid()
}

// ApplyAnswer sets the answer of the question with the given urn. The whole
// answer bundle is persisted, since the remote stores answers per assessment.
func (b *Board) ApplyAnswer(id, questionURN string, answer *string) error {
	return b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		q, err := findQuestion(ra, questionURN)
		if err != nil {
			return "", nil, err
		}
		if err := q.Accepts(answer); err != nil {
			return "", nil, err
		}
		if answer != nil {
			v := *answer
			answer = &v
		}
		q.Answer = answer
		return FieldAnswer, ra.Answer.Clone(), nil
	})
}

func findQuestion(ra *RequirementAssessment, urn string) (*Question, error) {
	if ra.Answer != nil {
		for i := range ra.Answer.Questions {
			if ra.Answer.Questions[i].URN == urn {
				return &ra.Answer.Questions[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrUnknownQuestion, urn, ra.ID)
}

// SelectStatus applies a click on a status option and returns the new status.
func (b *Board) SelectStatus(id string, clicked Status) (Status, error) {
	var next Status
	err := b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		if !clicked.Valid() {
			return "", nil, fmt.Errorf("%w: status %q", ErrInvalidValue, clicked)
		}
		next = NextStatus(ra.Status, clicked)
		ra.Status = next
		return FieldStatus, next, nil
	})
	return next, err
}

// SelectResult applies a click on a result option and returns the new result.
func (b *Board) SelectResult(id string, clicked Result) (Result, error) {
	var next Result
	err := b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		if !clicked.Valid() {
			return "", nil, fmt.Errorf("%w: result %q", ErrInvalidValue, clicked)
		}
		next = NextResult(ra.Result, clicked)
		ra.Result = next
		return FieldResult, next, nil
	})
	return next, err
}

// SelectChoice applies a click on an option of a single-choice question.
func (b *Board) SelectChoice(id, questionURN, clicked string) (*string, error) {
	var next *string
	err := b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		q, err := findQuestion(ra, questionURN)
		if err != nil {
			return "", nil, err
		}
		if q.Type != QuestionUniqueChoice {
			return "", nil, fmt.Errorf("%w: %s is not a choice question", ErrInvalidValue, questionURN)
		}
		next = NextChoice(q.Answer, clicked)
		if err := q.Accepts(next); err != nil {
			return "", nil, err
		}
		q.Answer = next
		return FieldAnswer, ra.Answer.Clone(), nil
	})
	if next != nil {
		v := *next
		next = &v
	}
	return next, err
}

// EditObservation records an unsaved observation edit. Nothing is persisted.
func (b *Board) EditObservation(id, text string) error {
	b.mu.Lock()
	ra, ok := b.byID[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAssessment, id)
	}
	ra.ObservationBuffer = text
	b.mu.Unlock()
	b.notify(Change{AssessmentID: id, Kind: ChangeObservationBuffer, Field: FieldObservation})
	return nil
}

// ObservationDirty reports whether an observation edit is pending.
func (b *Board) ObservationDirty(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ra, ok := b.byID[id]
	return ok && ra.ObservationBuffer != ra.Observation
}

// SaveObservation commits the pending observation edit.
func (b *Board) SaveObservation(id string) error {
	return b.mutate(id, func(ra *RequirementAssessment) (Field, any, error) {
		return assignField(ra, FieldObservation, ra.ObservationBuffer)
	})
}

// CancelObservation discards the pending observation edit.
func (b *Board) CancelObservation(id string) error {
	b.mu.Lock()
	ra, ok := b.byID[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAssessment, id)
	}
	ra.ObservationBuffer = ra.Observation
	b.mu.Unlock()
	b.notify(Change{AssessmentID: id, Kind: ChangeObservationBuffer, Field: FieldObservation})
	return nil
}

// MergeEvidence reflects a server-confirmed evidence creation. Only the first
// requirement of the event is considered. It reports whether the assessment
// changed; a missing assessment or an evidence already listed is a no-op.
func (b *Board) MergeEvidence(created CreatedEvidence) bool {
	if len(created.Requirements) == 0 {
		return false
	}
	target := created.Requirements[0]

	b.mu.Lock()
	ra, ok := b.byID[target]
	if !ok || ra.hasEvidence(created.ID) {
		b.mu.Unlock()
		return false
	}
	ra.Evidences = append(ra.Evidences, EvidenceRef{ID: created.ID, Str: created.Name})
	ra.EvidenceRevision++
	change := Change{AssessmentID: ra.ID, Kind: ChangeEvidence, Revision: ra.EvidenceRevision}
	b.mu.Unlock()

	b.notify(change)
	return true
}

// RemoveEvidence drops the evidence from every assessment that lists it and
// returns how many assessments changed.
func (b *Board) RemoveEvidence(evidenceID string) int {
	b.mu.Lock()
	var changes []Change
	for _, ra := range b.order {
		if !ra.hasEvidence(evidenceID) {
			continue
		}
		kept := ra.Evidences[:0:0]
		for _, ev := range ra.Evidences {
			if ev.ID != evidenceID {
				kept = append(kept, ev)
			}
		}
		ra.Evidences = kept
		ra.EvidenceRevision++
		changes = append(changes, Change{AssessmentID: ra.ID, Kind: ChangeEvidence, Revision: ra.EvidenceRevision})
	}
	b.mu.Unlock()

	b.notify(changes...)
	return len(changes)
}

func dedupeEvidences(in []EvidenceRef) []EvidenceRef {
	seen := make(map[string]struct{}, len(in))
	out := make([]EvidenceRef, 0, len(in))
	for _, ev := range in {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}
