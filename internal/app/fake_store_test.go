package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"attest/api/internal/auth"
	"attest/api/internal/config"
	"attest/api/internal/store"
)

const testSecret = "test-secret"

// fakeStore keeps one compliance assessment in memory.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	ca           store.ComplianceAssessment
	requirements []store.Requirement
	records      []store.RequirementAssessment
	evidences    map[string]store.Evidence
	listCalls    int
	patches      []store.RequirementAssessmentPatch
	pingErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]store.User{
			"u-auditor": {ID: "u-auditor", DisplayName: "Robin", Role: "auditor"},
			"u-vendor":  {ID: "u-vendor", DisplayName: "Sam", Role: "third_party_respondent"},
			"u-viewer":  {ID: "u-viewer", DisplayName: "Alex", Role: "viewer"},
		},
		ca: store.ComplianceAssessment{ID: "ca1", Name: "Supplier audit", Framework: "ISO 27001"},
		requirements: []store.Requirement{
			{ID: "req-1", RefID: "A.5", DisplayShort: "1.1", Name: "Policies", Assessable: true},
			{ID: "req-2", RefID: "A.6", Name: "Supplier security", Assessable: true},
		},
		records: []store.RequirementAssessment{
			{
				ID: "ra1", ComplianceAssessmentID: "ca1", RequirementID: "req-1",
				Status: "in_progress", Result: "compliant", Observation: "initial",
				Evidences: []store.EvidenceLink{{ID: "e1", Name: "Policy.pdf"}},
			},
			{
				ID: "ra2", ComplianceAssessmentID: "ca1", RequirementID: "req-2",
				Status: "to_do", Result: "not_assessed",
				Answer: json.RawMessage(`{"questions":[{"urn":"q:0","text":"Encrypted?","type":"unique_choice","question_choices":["yes","no"],"answer":null}]}`),
			},
		},
		evidences: map[string]store.Evidence{
			"e1": {ID: "e1", Name: "Policy.pdf", RequirementAssessmentIDs: []string{"ra1"}, ComplianceAssessmentIDs: []string{"ca1"}},
		},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := store.User{ID: "u-" + name, DisplayName: name, Role: "viewer"}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetComplianceAssessment(_ context.Context, id string) (store.ComplianceAssessment, error) {
	if id != f.ca.ID {
		return store.ComplianceAssessment{}, sql.ErrNoRows
	}
	return f.ca, nil
}

func (f *fakeStore) ListRequirements(context.Context, string) ([]store.Requirement, error) {
	return f.requirements, nil
}

func (f *fakeStore) ListRequirementAssessments(context.Context, string) ([]store.RequirementAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]store.RequirementAssessment, len(f.records))
	for i, r := range f.records {
		r.Evidences = append([]store.EvidenceLink(nil), r.Evidences...)
		out[i] = r
	}
	return out, nil
}

func (f *fakeStore) PatchRequirementAssessment(_ context.Context, id string, patch store.RequirementAssessmentPatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		r := &f.records[i]
		if r.ID != id {
			continue
		}
		if patch.Status != nil {
			r.Status = *patch.Status
		}
		if patch.Result != nil {
			r.Result = *patch.Result
		}
		if patch.Observation != nil {
			r.Observation = *patch.Observation
		}
		if patch.SetAnswer {
			r.Answer = patch.Answer
		}
		f.patches = append(f.patches, patch)
		return r.ComplianceAssessmentID, nil
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) CreateEvidence(_ context.Context, ev store.Evidence, _ string) (store.Evidence, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var affected []string
	for i := range f.records {
		for _, raID := range ev.RequirementAssessmentIDs {
			if f.records[i].ID == raID {
				f.records[i].Evidences = append(f.records[i].Evidences, store.EvidenceLink{ID: ev.ID, Name: ev.Name})
				if len(affected) == 0 {
					affected = append(affected, f.records[i].ComplianceAssessmentID)
				}
			}
		}
	}
	ev.CreatedAt = time.Now()
	ev.ComplianceAssessmentIDs = affected
	f.evidences[ev.ID] = ev
	return ev, affected, nil
}

func (f *fakeStore) GetEvidence(_ context.Context, id string) (store.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.evidences[id]
	if !ok {
		return store.Evidence{}, sql.ErrNoRows
	}
	return ev, nil
}

func (f *fakeStore) DeleteEvidence(_ context.Context, id string) (store.Evidence, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.evidences[id]
	if !ok {
		return store.Evidence{}, nil, sql.ErrNoRows
	}
	delete(f.evidences, id)
	for i := range f.records {
		kept := f.records[i].Evidences[:0]
		for _, link := range f.records[i].Evidences {
			if link.ID != id {
				kept = append(kept, link)
			}
		}
		f.records[i].Evidences = kept
	}
	return ev, ev.ComplianceAssessmentIDs, nil
}

func (f *fakeStore) SetEvidenceAttachment(_ context.Context, id string, att store.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.evidences[id]
	if !ok {
		return sql.ErrNoRows
	}
	ev.Attachment = &att
	f.evidences[id] = ev
	return nil
}

func (f *fakeStore) ClearEvidenceAttachment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.evidences[id]
	if !ok {
		return sql.ErrNoRows
	}
	ev.Attachment = nil
	f.evidences[id] = ev
	return nil
}

func (f *fakeStore) ListEvidences(context.Context, string) ([]store.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Evidence, 0, len(f.evidences))
	for _, ev := range f.evidences {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeStore) record(id string) store.RequirementAssessment {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return r
		}
	}
	return store.RequirementAssessment{}
}

func testConfig() config.Config {
	return config.Config{JWTSecret: testSecret, AccessTTL: time.Hour, CacheTTL: time.Minute, CORSOrigin: "*"}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  userID,
		Name: userID,
		JTI:  "jti-" + userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func storeAttachment(key, name string) store.Attachment {
	return store.Attachment{Key: key, Name: name, ContentType: "application/pdf", Size: 3}
}
