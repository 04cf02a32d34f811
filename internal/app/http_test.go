package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"attest/api/internal/assessment"
	"attest/api/internal/attachment"
	"attest/api/internal/cache"
)

type testServer struct {
	store       *fakeStore
	service     *Service
	handler     http.Handler
	cache       cache.Cache
	attachments *attachment.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ts := &testServer{
		store:       newFakeStore(),
		cache:       cache.NewRedisCacheWithClient(client, 0),
		attachments: attachment.NewMemoryStore(),
	}
	ts.service = New(testConfig(), Deps{
		Store:       ts.store,
		Cache:       ts.cache,
		Attachments: ts.attachments,
	})
	ts.service.newID = func() string { return "e-new" }
	ts.handler = NewHTTPServer(ts.service, "*").Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	if rr := ts.do(t, http.MethodGet, "/api/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/ready", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	ts.store.pingErr = errors.New("connection refused")
	rr := ts.do(t, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with db down: expected 503, got %d", rr.Code)
	}
	var payload struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	decodeJSON(t, rr, &payload)
	if payload.OK || payload.Status != "not_ready" {
		t.Fatalf("unexpected ready payload: %+v", payload)
	}
}

func TestSessionReportsThirdParty(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/session", "u-vendor", nil)
	var payload map[string]any
	decodeJSON(t, rr, &payload)
	want := map[string]any{
		"authenticated": true,
		"userName":      "Sam",
		"userId":        "u-vendor",
		"role":          "third_party_respondent",
		"thirdParty":    true,
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	rr = ts.do(t, http.MethodGet, "/api/session", "", nil)
	decodeJSON(t, rr, &payload)
	if payload["authenticated"] != false {
		t.Fatalf("anonymous session should not be authenticated: %v", payload)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/session/login", "", map[string]string{"name": "Robin"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var login struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	decodeJSON(t, rr, &login)
	if login.UserID != "u-auditor" || login.Role != "auditor" || login.Token == "" {
		t.Fatalf("unexpected login payload: %+v", login)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/compliance-assessments/ca1/requirements-list", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	out := httptest.NewRecorder()
	ts.handler.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("expected issued token to authorize, got %d", out.Code)
	}

	if rr := ts.do(t, http.MethodPost, "/api/session/login", "", map[string]string{"name": "  "}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank name: expected 422, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/requirements-list", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/requirements-list", "u-unknown", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted user, got %d", rr.Code)
	}
}

func TestRequirementsListPayload(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/requirements-list", "u-viewer", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var page assessment.Page
	decodeJSON(t, rr, &page)

	if len(page.Requirements) != 2 || len(page.RequirementAssessments) != 2 {
		t.Fatalf("unexpected page sizes: %d requirements, %d assessments", len(page.Requirements), len(page.RequirementAssessments))
	}
	if page.EvidenceModel.URLModel != "evidences" {
		t.Fatalf("unexpected evidence model: %+v", page.EvidenceModel)
	}
	var form map[string]string
	if err := json.Unmarshal(page.DeleteForm, &form); err != nil || form["action"] != assessment.DeleteEvidenceAction {
		t.Fatalf("unexpected delete form %s (err %v)", page.DeleteForm, err)
	}

	ra1 := page.RequirementAssessments[0]
	if diff := cmp.Diff([]assessment.EvidenceRef{{ID: "e1", Str: "Policy.pdf"}}, ra1.Evidences); diff != "" {
		t.Fatalf("ra1 evidences (-want +got):\n%s", diff)
	}
	if ra1.DisplayShort != "1.1" || ra1.Status != assessment.StatusInProgress {
		t.Fatalf("unexpected ra1: %+v", ra1)
	}
	ra2 := page.RequirementAssessments[1]
	if ra2.Answer == nil || len(ra2.Answer.Questions) != 1 || ra2.Answer.Questions[0].Answer != nil {
		t.Fatalf("unexpected ra2 answer: %+v", ra2.Answer)
	}
	if ra2.Evidences == nil {
		t.Fatal("evidences should encode as an empty list")
	}

	if rr := ts.do(t, http.MethodGet, "/api/compliance-assessments/missing/requirements-list", "u-viewer", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("missing assessment: expected 404, got %d", rr.Code)
	}
}

func TestRequirementsListCachedUntilUpdate(t *testing.T) {
	ts := newTestServer(t)
	list := "/api/compliance-assessments/ca1/requirements-list"

	ts.do(t, http.MethodGet, list, "u-auditor", nil)
	ts.do(t, http.MethodGet, list, "u-auditor", nil)
	if ts.store.listCalls != 1 {
		t.Fatalf("expected second read to hit the cache, store read %d times", ts.store.listCalls)
	}
	if _, ok := ts.cache.Get(context.Background(), cache.RequirementsListKey("ca1")); !ok {
		t.Fatal("expected payload in cache")
	}

	rr := ts.do(t, http.MethodPost, "/requirement-assessments/ra1?/updateRequirementAssessment", "u-auditor",
		map[string]any{"id": "ra1", "status": "done"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := ts.cache.Get(context.Background(), cache.RequirementsListKey("ca1")); ok {
		t.Fatal("expected update to invalidate the cached list")
	}

	rr = ts.do(t, http.MethodGet, list, "u-auditor", nil)
	var page assessment.Page
	decodeJSON(t, rr, &page)
	if ts.store.listCalls != 2 {
		t.Fatalf("expected reload after invalidation, store read %d times", ts.store.listCalls)
	}
	if page.RequirementAssessments[0].Status != assessment.StatusDone {
		t.Fatalf("expected fresh status, got %s", page.RequirementAssessments[0].Status)
	}
}

func TestUpdateRequirementAssessmentFields(t *testing.T) {
	ts := newTestServer(t)
	target := "/requirement-assessments/ra1?/updateRequirementAssessment"

	rr := ts.do(t, http.MethodPost, target, "u-auditor", map[string]any{"id": "ra1", "result": "non_compliant"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload map[string]string
	decodeJSON(t, rr, &payload)
	if payload["complianceAssessment"] != "ca1" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	rr = ts.do(t, http.MethodPost, target, "u-auditor", map[string]any{"id": "ra1", "observation": ""})
	if rr.Code != http.StatusOK {
		t.Fatalf("clearing observation: expected 200, got %d", rr.Code)
	}

	got := ts.store.record("ra1")
	if got.Result != "non_compliant" || got.Observation != "" || got.Status != "in_progress" {
		t.Fatalf("unexpected record after updates: %+v", got)
	}
	if len(ts.store.patches) != 2 || ts.store.patches[0].UpdatedBy != "u-auditor" {
		t.Fatalf("unexpected patches: %+v", ts.store.patches)
	}
}

func TestUpdateRequirementAssessmentRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     map[string]any
		wantCode string
	}{
		{"mismatched id", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"id": "ra2", "status": "done"}, "ID_MISMATCH"},
		{"missing id", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"status": "done"}, "ID_MISMATCH"},
		{"unknown field", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"id": "ra1", "requirement": "req-2"}, "UNKNOWN_FIELD"},
		{"invalid status", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"id": "ra1", "status": "finished"}, "INVALID_VALUE"},
		{"invalid result", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"id": "ra1", "result": 3}, "INVALID_VALUE"},
		{"invalid choice", "/requirement-assessments/ra2?/updateRequirementAssessment", map[string]any{
			"id": "ra2",
			"answer": map[string]any{"questions": []map[string]any{{
				"urn": "q:0", "type": "unique_choice", "question_choices": []string{"yes", "no"}, "answer": "maybe",
			}}},
		}, "INVALID_VALUE"},
		{"no field", "/requirement-assessments/ra1?/updateRequirementAssessment", map[string]any{"id": "ra1"}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rr := ts.do(t, http.MethodPost, tt.target, "u-auditor", tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
			}
			var payload map[string]any
			decodeJSON(t, rr, &payload)
			if payload["code"] != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, payload["code"])
			}
			if len(ts.store.patches) != 0 {
				t.Fatalf("rejected update reached the store: %+v", ts.store.patches)
			}
		})
	}
}

func TestUpdateRequirementAssessmentUnknownRecord(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/requirement-assessments/ra9?/updateRequirementAssessment", "u-auditor",
		map[string]any{"id": "ra9", "status": "done"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpdatePermissionsByRole(t *testing.T) {
	ts := newTestServer(t)
	target := "/requirement-assessments/ra2?/updateRequirementAssessment"
	answer := map[string]any{"questions": []map[string]any{{
		"urn": "q:0", "text": "Encrypted?", "type": "unique_choice", "question_choices": []string{"yes", "no"}, "answer": "yes",
	}}}

	if rr := ts.do(t, http.MethodPost, target, "u-vendor", map[string]any{"id": "ra2", "result": "compliant"}); rr.Code != http.StatusForbidden {
		t.Fatalf("third party result: expected 403, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, target, "u-viewer", map[string]any{"id": "ra2", "answer": answer}); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer answer: expected 403, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, target, "u-vendor", map[string]any{"id": "ra2", "answer": answer}); rr.Code != http.StatusOK {
		t.Fatalf("third party answer: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	stored, err := decodeAnswer(ts.store.record("ra2").Answer)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Questions[0].Answer == nil || *stored.Questions[0].Answer != "yes" {
		t.Fatalf("unexpected stored answer: %+v", stored)
	}

	if rr := ts.do(t, http.MethodPost, target, "u-vendor", map[string]any{"id": "ra2", "answer": nil}); rr.Code != http.StatusOK {
		t.Fatalf("clearing answer: expected 200, got %d", rr.Code)
	}
	last := ts.store.patches[len(ts.store.patches)-1]
	if !last.SetAnswer || last.Answer != nil {
		t.Fatalf("expected cleared answer patch, got %+v", last)
	}
}

func TestEvidenceCreateAndDelete(t *testing.T) {
	ts := newTestServer(t)
	list := "/api/compliance-assessments/ca1/requirements-list"
	ts.do(t, http.MethodGet, list, "u-auditor", nil)

	rr := ts.do(t, http.MethodPost, "/evidences?/create", "u-vendor", map[string]any{
		"name":         " Pentest report ",
		"requirements": []string{"ra2"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created assessment.CreatedEvidence
	decodeJSON(t, rr, &created)
	want := assessment.CreatedEvidence{ID: "e-new", Name: "Pentest report", Requirements: []string{"ra2"}}
	if diff := cmp.Diff(want, created); diff != "" {
		t.Fatalf("created evidence (-want +got):\n%s", diff)
	}
	if _, ok := ts.cache.Get(context.Background(), cache.RequirementsListKey("ca1")); ok {
		t.Fatal("expected creation to invalidate the cached list")
	}

	if rr := ts.do(t, http.MethodPost, "/evidences?/create", "u-viewer", map[string]any{"name": "x"}); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer create: expected 403, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, "/evidences?/create", "u-auditor", map[string]any{"name": ""}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank name: expected 422, got %d", rr.Code)
	}

	ctx := context.Background()
	key := attachment.ObjectKey("e1", "Policy.pdf")
	if _, err := ts.attachments.Put(ctx, key, strings.NewReader("pdf"), 3, "application/pdf"); err != nil {
		t.Fatal(err)
	}
	if err := ts.store.SetEvidenceAttachment(ctx, "e1", storeAttachment(key, "Policy.pdf")); err != nil {
		t.Fatal(err)
	}

	ts.do(t, http.MethodGet, list, "u-auditor", nil)
	rr = ts.do(t, http.MethodPost, "/evidences?/delete", "u-auditor", map[string]string{"id": "e1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, _, err := ts.attachments.Get(ctx, key); !errors.Is(err, attachment.ErrNotFound) {
		t.Fatalf("expected attachment removed, got %v", err)
	}
	if len(ts.store.record("ra1").Evidences) != 0 {
		t.Fatalf("expected evidence unlinked, got %+v", ts.store.record("ra1").Evidences)
	}
	if _, ok := ts.cache.Get(ctx, cache.RequirementsListKey("ca1")); ok {
		t.Fatal("expected deletion to invalidate the cached list")
	}

	if rr := ts.do(t, http.MethodPost, "/evidences?/delete", "u-auditor", map[string]string{"id": "e1"}); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestAttachmentUploadDownloadDelete(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "scan results.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("all clear"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/evidences/e1/attachment", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "u-auditor"))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var uploaded struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	}
	decodeJSON(t, rr, &uploaded)
	if uploaded.Key != "evidences/e1/scan_results.txt" || uploaded.Size != int64(len("all clear")) {
		t.Fatalf("unexpected upload payload: %+v", uploaded)
	}

	rr = ts.do(t, http.MethodGet, "/api/evidences/e1/attachment", "u-viewer", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "all clear" {
		t.Fatalf("download: got %d %q", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "scan results.txt") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	if rr := ts.do(t, http.MethodPost, "/api/evidences/e1/delete-attachment", "u-viewer", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer delete attachment: expected 403, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPost, "/api/evidences/e1/delete-attachment", "u-auditor", nil); rr.Code != http.StatusOK {
		t.Fatalf("delete attachment: expected 200, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/evidences/e1/attachment", "u-viewer", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("download after delete: expected 404, got %d", rr.Code)
	}
}

func TestEvidenceSearchWithoutBackends(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/evidences?q=policy", "u-viewer", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Results []any  `json:"results"`
		Total   int    `json:"total"`
		Query   string `json:"query"`
	}
	decodeJSON(t, rr, &payload)
	if payload.Results == nil || payload.Total != 0 || payload.Query != "policy" {
		t.Fatalf("unexpected search payload: %+v", payload)
	}
}

func TestChoiceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/requirement-assessments/status", "", nil)
	var choices []Choice
	decodeJSON(t, rr, &choices)
	if len(choices) != len(assessment.Statuses) || choices[0].Value != "to_do" || choices[0].Label != "To do" {
		t.Fatalf("unexpected status choices: %+v", choices)
	}

	rr = ts.do(t, http.MethodGet, "/api/requirement-assessments/result", "", nil)
	decodeJSON(t, rr, &choices)
	if len(choices) != len(assessment.Results) || choices[len(choices)-1].Value != "not_applicable" {
		t.Fatalf("unexpected result choices: %+v", choices)
	}
}

func TestExportHTML(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/export?format=html", "u-auditor", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if body := rr.Body.String(); !strings.Contains(body, "Supplier audit") || !strings.Contains(body, "badge result-compliant") {
		t.Fatalf("report is missing assessment data:\n%s", body)
	}

	rr = ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/export?format=html", "u-vendor", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("third party export: expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "badge result-") {
		t.Fatal("third party report should not show results")
	}

	if rr := ts.do(t, http.MethodGet, "/api/compliance-assessments/ca1/export?format=xlsx", "u-auditor", nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown format: expected 422, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	if rr := ts.do(t, http.MethodPost, "/evidences?/archive", "u-auditor", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
