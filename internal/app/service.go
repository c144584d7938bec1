package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"agitracker/api/internal/auth"
	"agitracker/api/internal/authpw"
	"agitracker/api/internal/captcha"
	"agitracker/api/internal/config"
	"agitracker/api/internal/images"
	"agitracker/api/internal/rbac"
	"agitracker/api/internal/search"
	"agitracker/api/internal/session"
	"agitracker/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) (store.User, error)
	CountUsers(context.Context) (int, error)

	InsertTool(context.Context, store.Tool) (store.Tool, error)
	UpdateTool(context.Context, store.Tool) (store.Tool, error)
	ToggleToolFeatured(context.Context, int64) (store.Tool, error)
	DeleteTool(context.Context, int64) (bool, error)
	GetTool(context.Context, int64) (store.Tool, error)
	ViewApprovedTool(context.Context, int64, string) (store.Tool, error)
	ToolSlugExists(context.Context, string, int64) (bool, error)
	ListTools(context.Context, store.ToolFilter) ([]store.Tool, error)
	CountTools(context.Context, store.ToolFilter) (int, error)
	CountFeaturedTools(context.Context) (int, error)
	TotalToolViews(context.Context) (int64, error)
	ListApprovedToolSlugs(context.Context) ([]store.SitemapEntry, error)

	CreateSubmission(context.Context, store.Submission, func(store.Submission) []store.OutboxEvent) (store.Submission, error)
	GetSubmission(context.Context, int64) (store.Submission, error)
	ListPendingSubmissions(context.Context) ([]store.Submission, error)
	ListSubmissions(context.Context, store.SubmissionFilter) ([]store.Submission, error)
	CountSubmissions(context.Context, string) (int, error)
	PromoteSubmission(context.Context, store.PromoteParams) (store.Tool, error)
	RejectSubmission(context.Context, int64, string, string, func(store.Submission) []store.OutboxEvent) (store.Submission, error)
	DeleteSubmission(context.Context, int64) (bool, error)

	InsertArticle(context.Context, store.Article) (store.Article, error)
	UpdateArticle(context.Context, store.Article) (store.Article, error)
	DeleteArticle(context.Context, int64) (bool, error)
	GetArticle(context.Context, int64) (store.Article, error)
	ViewPublishedArticle(context.Context, string) (store.Article, error)
	ArticleSlugExists(context.Context, string, int64) (bool, error)
	ListArticles(context.Context, store.ArticleFilter) ([]store.Article, error)
	CountArticles(context.Context, store.ArticleFilter) (int, error)
	ListPublishedArticleSlugs(context.Context) ([]store.SitemapEntry, error)

	CountImages(context.Context, []string) (int, error)
	OutboxStats(context.Context) (store.OutboxStats, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Result
	ReindexAllFromPG(context.Context) (search.ReindexReport, error)
	Enabled() bool
}

type imageService interface {
	Upload(context.Context, io.Reader) (images.Uploaded, error)
	Get(context.Context, string) (store.Image, error)
}

type captchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) error
}

type passwordAuth interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
}

// Dependencies are the optional collaborators of a Service. Nil fields disable
// the features that need them.
type Dependencies struct {
	Search    *search.Service
	Images    *images.Service
	Captcha   *captcha.Verifier
	Passwords *authpw.Service
	Sessions  session.Store
}

type Service struct {
	cfg       config.Config
	store     dataStore
	search    searcher
	images    imageService
	captcha   captchaVerifier
	passwords passwordAuth
	sessions  session.Store
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: deps.Sessions,
		now:      time.Now,
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	if deps.Images != nil {
		svc.images = deps.Images
	}
	if deps.Captcha != nil {
		svc.captcha = deps.Captcha
	}
	if deps.Passwords != nil {
		svc.passwords = deps.Passwords
	}
	if svc.sessions == nil {
		svc.sessions = session.NewPostgresStore(dataStore)
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SignIn checks credentials and opens a revocable session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.passwords.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrMissingCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Email, user.Role, s.cfg.SessionTTL, s.now())
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), claims)
	if err != nil {
		return Session{}, err
	}
	expiresAt := time.Unix(claims.Exp, 0)
	if err := s.sessions.Save(ctx, auth.HashToken(token), user.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("user_id", user.ID).Str("role", user.Role).Msg("auth: signed in")
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken resolves a token to its live session. Revoked sessions and
// deleted users are reported as auth.ErrInvalidToken.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := s.sessions.Lookup(ctx, auth.HashToken(token))
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if userID != claims.Sub {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(token))
}

func (s *Service) CookieSecure() bool {
	return s.cfg.CookieSecure
}
