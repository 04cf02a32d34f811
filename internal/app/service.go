package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"attest/api/internal/attachment"
	"attest/api/internal/auth"
	"attest/api/internal/cache"
	"attest/api/internal/config"
	"attest/api/internal/export"
	"attest/api/internal/rbac"
	"attest/api/internal/search"
	"attest/api/internal/store"
)

type Session struct {
	Token      string
	UserID     string
	UserName   string
	Role       string
	ThirdParty bool
	JTI        string
	ExpiresAt  time.Time
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetComplianceAssessment(context.Context, string) (store.ComplianceAssessment, error)
	ListRequirements(context.Context, string) ([]store.Requirement, error)
	ListRequirementAssessments(context.Context, string) ([]store.RequirementAssessment, error)
	PatchRequirementAssessment(context.Context, string, store.RequirementAssessmentPatch) (string, error)
	CreateEvidence(context.Context, store.Evidence, string) (store.Evidence, []string, error)
	GetEvidence(context.Context, string) (store.Evidence, error)
	DeleteEvidence(context.Context, string) (store.Evidence, []string, error)
	SetEvidenceAttachment(context.Context, string, store.Attachment) error
	ClearEvidenceAttachment(context.Context, string) error
	ListEvidences(context.Context, string) ([]store.Evidence, error)
}

// Deps are the backends a Service talks to. Search and Attachments may be
// nil; Cache defaults to an in-memory cache.
type Deps struct {
	Store       dataStore
	Cache       cache.Cache
	Search      *search.Service
	Attachments attachment.Store
}

type Service struct {
	cfg         config.Config
	store       dataStore
	cache       cache.Cache
	search      *search.Service
	attachments attachment.Store
	exporter    *export.Service
	newID       func() string
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache(cfg.CacheTTL, 10*time.Minute)
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, nil)
	}
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		cache:       deps.Cache,
		search:      deps.Search,
		attachments: deps.Attachments,
		newID:       uuid.NewString,
	}
	s.exporter = export.NewService(exportStore{store: deps.Store}, deps.Attachments)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("VALIDATION_ERROR", "name is required", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	ttl := s.cfg.AccessTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := time.Now().Add(ttl)
	jti := s.newID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return sessionFor(user, token, jti, expiresAt), nil
}

// SessionFromToken validates the token and reloads the user so role changes
// apply before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return sessionFor(user, token, claims.JTI, claims.ExpiresAt()), nil
}

func sessionFor(user store.User, token, jti string, expiresAt time.Time) Session {
	role := rbac.Normalize(user.Role)
	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Role:       string(role),
		ThirdParty: rbac.IsThirdParty(role),
		JTI:        jti,
		ExpiresAt:  expiresAt,
	}
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return errForbidden
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, complianceAssessmentIDs ...string) {
	for _, id := range complianceAssessmentIDs {
		if id == "" {
			continue
		}
		if err := s.cache.Delete(ctx, cache.RequirementsListKey(id)); err != nil {
			// The entry expires on its own; a stale list is only served
			// until then.
			log.Printf("cache: invalidate %s: %v", id, err)
		}
	}
}

func (s *Service) Export(ctx context.Context, session Session, complianceAssessmentID string, format export.Format) (*export.Result, error) {
	if err := s.require(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		ComplianceAssessmentID: complianceAssessmentID,
		Format:                 format,
		QuestionnaireOnly:      session.ThirdParty,
		GeneratedBy:            session.UserName,
	})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
