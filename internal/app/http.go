package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attest/api/internal/assessment"
	"attest/api/internal/attachment"
	"attest/api/internal/auth"
	"attest/api/internal/export"
	"attest/api/internal/search"
)

const maxAttachmentSize = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"cache":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		// A cache outage degrades to uncached reads, so it is reported only.
		if err := s.service.cache.Ping(ctx); err != nil {
			checks["cache"] = map[string]any{
				"status": "degraded",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
			"thirdParty":    session.ThirdParty,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			var domainErr *DomainError
			if errors.As(err, &domainErr) {
				writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
				return
			}
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      session.Token,
			"userName":   session.UserName,
			"userId":     session.UserID,
			"role":       session.Role,
			"thirdParty": session.ThirdParty,
			"expiresAt":  session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/requirement-assessments/status" {
		writeJSON(w, http.StatusOK, StatusChoices())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/requirement-assessments/result" {
		writeJSON(w, http.StatusOK, ResultChoices())
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	// Form actions are addressed as `{path}?/{action}`.
	action := strings.TrimPrefix(r.URL.RawQuery, "/")

	if r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "requirement-assessments" && action == "updateRequirementAssessment" {
		s.handleUpdateRequirementAssessment(w, r, session, parts[1])
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "evidences" {
		switch action {
		case "create":
			var body EvidenceInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateEvidence(r.Context(), session, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
			return
		case "delete":
			var body struct {
				ID string `json:"id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.DeleteEvidence(r.Context(), session, body.ID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": body.ID, "deleted": true})
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/evidences" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		response, err := s.service.SearchEvidences(session, search.Query{
			Text:                   query.Get("q"),
			ComplianceAssessmentID: query.Get("complianceAssessment"),
			Limit:                  limit,
			Offset:                 offset,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "evidences" {
		s.handleEvidenceAttachment(w, r, session, parts[2], parts[3])
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "compliance-assessments" {
		complianceAssessmentID := parts[2]
		switch parts[3] {
		case "requirements-list":
			data, err := s.service.RequirementsList(r.Context(), session, complianceAssessmentID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		case "export":
			format, ok := export.ParseFormat(r.URL.Query().Get("format"))
			if !ok {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be one of html, pdf, docx, zip", nil)
				return
			}
			result, err := s.service.Export(r.Context(), session, complianceAssessmentID, format)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
			w.Header().Set("Content-Type", result.MimeType)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUpdateRequirementAssessment(w http.ResponseWriter, r *http.Request, session Session, id string) {
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	complianceAssessmentID, err := s.service.UpdateRequirementAssessment(r.Context(), session, id, body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                   id,
		"complianceAssessment": complianceAssessmentID,
	})
}

func (s *HTTPServer) handleEvidenceAttachment(w http.ResponseWriter, r *http.Request, session Session, evidenceID, resource string) {
	switch {
	case resource == "attachment" && r.Method == http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
			return
		}
		defer file.Close()
		att, err := s.service.UploadAttachment(r.Context(), session, evidenceID, Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"key":         att.Key,
			"name":        att.Name,
			"contentType": att.ContentType,
			"size":        att.Size,
		})
	case resource == "attachment" && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		body, att, err := s.service.OpenAttachment(r.Context(), session, evidenceID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", att.ContentType)
		w.Header().Set("Content-Disposition", "attachment; filename=\""+strings.ReplaceAll(att.Name, `"`, "")+"\"")
		if att.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			if _, err := io.Copy(w, body); err != nil {
				log.Printf("evidence: stream attachment %s: %v", evidenceID, err)
			}
		}
	case resource == "delete-attachment" && r.Method == http.MethodPost:
		if err := s.service.DeleteAttachment(r.Context(), session, evidenceID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": evidenceID, "attachment": nil})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("server error: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, attachment.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	if errors.Is(err, assessment.ErrInvalidValue) {
		return http.StatusUnprocessableEntity, "INVALID_VALUE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
