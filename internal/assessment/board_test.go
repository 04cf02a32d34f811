package assessment

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []Request
}

func (r *recordingSubmitter) Submit(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recordingSubmitter) all() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

func strPtr(s string) *string { return &s }

func decodeBody(t *testing.T, req Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func questionnairePage() Page {
	return Page{
		Requirements: []RequirementDefinition{
			{ID: "req-1", DisplayShort: "1.1", Assessable: true},
			{ID: "req-2", Name: "Supplier security", Assessable: true},
		},
		RequirementAssessments: []RequirementAssessment{
			{
				ID:          "ra1",
				Requirement: "req-1",
				Status:      StatusToDo,
				Result:      ResultNotAssessed,
				Observation: "initial",
				Evidences:   []EvidenceRef{{ID: "e1", Str: "Policy.pdf"}, {ID: "e2", Str: "Log.txt"}},
			},
			{
				ID:          "ra2",
				Requirement: "req-2",
				Status:      StatusInProgress,
				Result:      ResultCompliant,
				Answer: &Answer{Questions: []Question{
					{URN: "q:0", Text: "Do you have an ISMS?", Type: QuestionUniqueChoice, Choices: []string{"yes", "no"}},
					{URN: "q:1", Text: "Last audit date", Type: QuestionDate},
					{URN: "q:2", Text: "Describe your scope", Type: QuestionText, Answer: strPtr("old")},
				}},
				Evidences: []EvidenceRef{{ID: "e1", Str: "Policy.pdf"}},
			},
		},
	}
}

func TestApplyFieldUpdateIsSynchronous(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments/", sub)

	if err := board.ApplyFieldUpdate("ra1", FieldStatus, "done"); err != nil {
		t.Fatalf("ApplyFieldUpdate: %v", err)
	}
	ra, _ := board.Assessment("ra1")
	if ra.Status != StatusDone {
		t.Fatalf("status = %s, want done", ra.Status)
	}

	reqs := sub.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].ActionPath != "/requirement-assessments/ra1" {
		t.Fatalf("action path = %q", reqs[0].ActionPath)
	}
	want := map[string]any{"id": "ra1", "status": "done"}
	if diff := cmp.Diff(want, decodeBody(t, reqs[0])); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFieldUpdateRejectsInvalidInput(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	cases := []struct {
		name  string
		id    string
		field Field
		value any
		want  error
	}{
		{name: "unknown assessment", id: "nope", field: FieldStatus, value: "done", want: ErrUnknownAssessment},
		{name: "unknown field", id: "ra1", field: "folder", value: "x", want: ErrUnknownField},
		{name: "bad status", id: "ra1", field: FieldStatus, value: "finished", want: ErrInvalidValue},
		{name: "bad result", id: "ra1", field: FieldResult, value: "maybe", want: ErrInvalidValue},
		{name: "observation not text", id: "ra1", field: FieldObservation, value: 42, want: ErrInvalidValue},
		{name: "answer not bundle", id: "ra1", field: FieldAnswer, value: "x", want: ErrInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := board.ApplyFieldUpdate(tc.id, tc.field, tc.value); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if len(sub.all()) != 0 {
		t.Fatal("rejected updates must not be persisted")
	}
	ra, _ := board.Assessment("ra1")
	if ra.Status != StatusToDo || ra.Result != ResultNotAssessed {
		t.Fatalf("rejected updates changed state: %+v", ra)
	}
}

func TestApplyAnswerPersistsWholeBundle(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)
	before, _ := board.Assessment("ra2")

	if err := board.ApplyAnswer("ra2", "q:2", strPtr("X")); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	after, _ := board.Assessment("ra2")
	wantQuestions := before.Answer.Clone().Questions
	wantQuestions[2].Answer = strPtr("X")
	if diff := cmp.Diff(wantQuestions, after.Answer.Questions); diff != "" {
		t.Fatalf("only question 2 should change (-want +got):\n%s", diff)
	}

	reqs := sub.all()
	if len(reqs) != 1 || reqs[0].Field != FieldAnswer {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	var body struct {
		ID     string `json:"id"`
		Answer Answer `json:"answer"`
	}
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != "ra2" {
		t.Fatalf("body id = %q", body.ID)
	}
	if diff := cmp.Diff(*after.Answer, body.Answer); diff != "" {
		t.Fatalf("persisted answer must be the whole bundle (-want +got):\n%s", diff)
	}
}

func TestApplyAnswerValidation(t *testing.T) {
	board := NewBoard(questionnairePage(), "/requirement-assessments", &recordingSubmitter{})

	if err := board.ApplyAnswer("ra2", "q:9", strPtr("x")); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if err := board.ApplyAnswer("ra1", "q:0", strPtr("yes")); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("assessment without answers: expected ErrUnknownQuestion, got %v", err)
	}
	if err := board.ApplyAnswer("ra2", "q:0", strPtr("perhaps")); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for unknown choice, got %v", err)
	}
	if err := board.ApplyAnswer("ra2", "q:1", strPtr("31/12/2024")); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for bad date, got %v", err)
	}
	if err := board.ApplyAnswer("ra2", "q:1", strPtr("2024-12-31")); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	if err := board.ApplyAnswer("ra2", "q:2", nil); err != nil {
		t.Fatalf("clearing text answer: %v", err)
	}
	ra, _ := board.Assessment("ra2")
	if ra.Answer.Questions[2].Answer != nil {
		t.Fatal("text answer should be cleared")
	}
}

func TestRequestBodiesAreSnapshots(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	if err := board.ApplyAnswer("ra2", "q:2", strPtr("first")); err != nil {
		t.Fatal(err)
	}
	if err := board.ApplyAnswer("ra2", "q:2", strPtr("second")); err != nil {
		t.Fatal(err)
	}

	reqs := sub.all()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	for i, want := range []string{"first", "second"} {
		var body struct {
			Answer Answer `json:"answer"`
		}
		if err := json.Unmarshal(reqs[i].Body, &body); err != nil {
			t.Fatal(err)
		}
		if got := body.Answer.Questions[2].Answer; got == nil || *got != want {
			t.Fatalf("request %d carries %v, want %q", i, got, want)
		}
	}
}

func TestSelectStatusAndResultToggle(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	status, err := board.SelectStatus("ra2", StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusToDo {
		t.Fatalf("re-selecting active status = %s, want to_do", status)
	}
	status, _ = board.SelectStatus("ra2", StatusInReview)
	if status != StatusInReview {
		t.Fatalf("status = %s, want in_review", status)
	}

	result, _ := board.SelectResult("ra2", ResultCompliant)
	if result != ResultNotAssessed {
		t.Fatalf("re-selecting active result = %s, want not_assessed", result)
	}

	if _, err := board.SelectStatus("ra2", "bogus"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}

	reqs := sub.all()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	if got := decodeBody(t, reqs[2])["result"]; got != "not_assessed" {
		t.Fatalf("persisted result = %v", got)
	}
}

func TestSelectChoiceTogglesToNull(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	next, err := board.SelectChoice("ra2", "q:0", "yes")
	if err != nil || next == nil || *next != "yes" {
		t.Fatalf("first click = %v, %v", next, err)
	}
	next, err = board.SelectChoice("ra2", "q:0", "yes")
	if err != nil || next != nil {
		t.Fatalf("second click = %v, %v; want nil", next, err)
	}
	if _, err := board.SelectChoice("ra2", "q:2", "yes"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("text question is not selectable, got %v", err)
	}

	reqs := sub.all()
	var body struct {
		Answer Answer `json:"answer"`
	}
	if err := json.Unmarshal(reqs[len(reqs)-1].Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Answer.Questions[0].Answer != nil {
		t.Fatal("deselected choice must persist as null")
	}
}

func TestSelectChoiceRejectsUnknownOption(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	if _, err := board.SelectChoice("ra2", "q:0", "maybe"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	ra, _ := board.Assessment("ra2")
	if ra.Answer.Questions[0].Answer != nil {
		t.Fatalf("rejected choice leaked into state: %q", *ra.Answer.Questions[0].Answer)
	}
	if len(sub.all()) != 0 {
		t.Fatal("rejected choice was persisted")
	}
}

func TestObservationBuffer(t *testing.T) {
	sub := &recordingSubmitter{}
	board := NewBoard(questionnairePage(), "/requirement-assessments", sub)

	if board.ObservationDirty("ra1") {
		t.Fatal("fresh board must not be dirty")
	}
	if err := board.EditObservation("ra1", "draft"); err != nil {
		t.Fatal(err)
	}
	if !board.ObservationDirty("ra1") {
		t.Fatal("edit must mark the observation dirty")
	}
	if len(sub.all()) != 0 {
		t.Fatal("editing the buffer must not persist")
	}

	if err := board.CancelObservation("ra1"); err != nil {
		t.Fatal(err)
	}
	ra, _ := board.Assessment("ra1")
	if ra.ObservationBuffer != "initial" || board.ObservationDirty("ra1") {
		t.Fatalf("cancel must restore the buffer, got %q", ra.ObservationBuffer)
	}

	_ = board.EditObservation("ra1", "final")
	if err := board.SaveObservation("ra1"); err != nil {
		t.Fatal(err)
	}
	ra, _ = board.Assessment("ra1")
	if ra.Observation != "final" || board.ObservationDirty("ra1") {
		t.Fatalf("save must commit the buffer, got %+v", ra)
	}
	reqs := sub.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if diff := cmp.Diff(map[string]any{"id": "ra1", "observation": "final"}, decodeBody(t, reqs[0])); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeEvidence(t *testing.T) {
	board := NewBoard(Page{RequirementAssessments: []RequirementAssessment{
		{ID: "r1", Evidences: []EvidenceRef{}},
		{ID: "r2", Evidences: []EvidenceRef{}},
	}}, "/requirement-assessments", nil)

	var changes []Change
	unsubscribe := board.Subscribe(func(c Change) { changes = append(changes, c) })
	defer unsubscribe()

	merged := board.MergeEvidence(CreatedEvidence{ID: "e9", Name: "Policy.pdf", Requirements: []string{"r2"}})
	if !merged {
		t.Fatal("expected merge")
	}

	r1, _ := board.Assessment("r1")
	r2, _ := board.Assessment("r2")
	if diff := cmp.Diff([]EvidenceRef{{ID: "e9", Str: "Policy.pdf"}}, r2.Evidences); diff != "" {
		t.Fatalf("r2 evidences (-want +got):\n%s", diff)
	}
	if len(r1.Evidences) != 0 {
		t.Fatalf("r1 evidences = %+v, want empty", r1.Evidences)
	}
	if r2.EvidenceRevision != 1 || r1.EvidenceRevision != 0 {
		t.Fatalf("revisions r1=%d r2=%d", r1.EvidenceRevision, r2.EvidenceRevision)
	}
	want := []Change{{AssessmentID: "r2", Kind: ChangeEvidence, Revision: 1}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
}

func TestMergeEvidenceNoOps(t *testing.T) {
	board := NewBoard(Page{RequirementAssessments: []RequirementAssessment{
		{ID: "r1", Evidences: []EvidenceRef{{ID: "e1", Str: "a"}}},
	}}, "/requirement-assessments", nil)

	notified := 0
	board.Subscribe(func(Change) { notified++ })

	cases := []CreatedEvidence{
		{ID: "e2", Name: "b", Requirements: []string{"missing"}},
		{ID: "e2", Name: "b"},
		{ID: "e1", Name: "a", Requirements: []string{"r1"}},
		{ID: "e3", Name: "c", Requirements: []string{"missing", "r1"}},
	}
	for _, created := range cases {
		if board.MergeEvidence(created) {
			t.Fatalf("merge of %+v should be a no-op", created)
		}
	}

	r1, _ := board.Assessment("r1")
	if len(r1.Evidences) != 1 || r1.EvidenceRevision != 0 {
		t.Fatalf("r1 changed: %+v", r1)
	}
	if notified != 0 {
		t.Fatalf("no-op merges notified %d times", notified)
	}
}

func TestRemoveEvidenceFromEveryAssessment(t *testing.T) {
	board := NewBoard(Page{RequirementAssessments: []RequirementAssessment{
		{ID: "r1", Evidences: []EvidenceRef{{ID: "e1"}, {ID: "e2"}}},
		{ID: "r2", Evidences: []EvidenceRef{{ID: "e1"}}},
		{ID: "r3", Evidences: []EvidenceRef{{ID: "e3"}}},
	}}, "/requirement-assessments", nil)

	var changed []string
	board.Subscribe(func(c Change) { changed = append(changed, c.AssessmentID) })

	if n := board.RemoveEvidence("e1"); n != 2 {
		t.Fatalf("RemoveEvidence changed %d assessments, want 2", n)
	}

	got := map[string][]EvidenceRef{}
	for _, ra := range board.Assessments() {
		got[ra.ID] = ra.Evidences
	}
	want := map[string][]EvidenceRef{
		"r1": {{ID: "e2"}},
		"r2": {},
		"r3": {{ID: "e3"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("evidences (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"r1", "r2"}, changed); diff != "" {
		t.Fatalf("notifications (-want +got):\n%s", diff)
	}
	if n := board.RemoveEvidence("e1"); n != 0 {
		t.Fatalf("second removal changed %d assessments", n)
	}
}

func TestNewBoardNormalizesLoadedState(t *testing.T) {
	board := NewBoard(Page{RequirementAssessments: []RequirementAssessment{
		{ID: "r1", Status: "", Result: "weird", Observation: "note", Evidences: []EvidenceRef{{ID: "e1"}, {ID: "e1"}}},
	}}, "/requirement-assessments", nil)

	ra, ok := board.Assessment("r1")
	if !ok {
		t.Fatal("r1 missing")
	}
	if ra.Status != StatusToDo || ra.Result != ResultNotAssessed {
		t.Fatalf("enumerations not defaulted: %s %s", ra.Status, ra.Result)
	}
	if ra.ObservationBuffer != "note" {
		t.Fatalf("buffer = %q, want note", ra.ObservationBuffer)
	}
	if len(ra.Evidences) != 1 {
		t.Fatalf("duplicate evidence ids kept: %+v", ra.Evidences)
	}
}

func TestAssessmentReturnsCopy(t *testing.T) {
	board := NewBoard(questionnairePage(), "/requirement-assessments", nil)

	ra, _ := board.Assessment("ra2")
	ra.Answer.Questions[0].Choices[0] = "mutated"
	ra.Evidences[0].Str = "mutated"

	again, _ := board.Assessment("ra2")
	if again.Answer.Questions[0].Choices[0] != "yes" || again.Evidences[0].Str != "Policy.pdf" {
		t.Fatal("Assessment must not expose internal state")
	}
}
