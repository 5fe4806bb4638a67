package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"fairfin/internal/audit"
	"fairfin/internal/identity/models"
	"fairfin/internal/identity/oidc"
	"fairfin/internal/identity/store"
	"fairfin/internal/platform/metrics"
	"fairfin/internal/platform/middleware"
	"fairfin/internal/token"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/sentinel"
	"fairfin/pkg/secrets"
)

// UnitOfWork runs fn atomically: every mutation and audit entry inside fn
// commits or rolls back together.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPublisher records state-changing actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service maps authenticated identity claims onto portal users. The stored
// role always wins over whatever the caller asked for at login time; this is
// the access-control choke point for the whole portal.
type Service struct {
	users      store.UserStore
	sessions   store.SessionStore
	uow        UnitOfWork
	tokens     *token.Service
	auditor    AuditPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sessionTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.sessionTTL = ttl
	}
}

func New(users store.UserStore, sessions store.SessionStore, uow UnitOfWork, tokens *token.Service, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		users:      users,
		sessions:   sessions,
		uow:        uow,
		tokens:     tokens,
		auditor:    auditor,
		sessionTTL: 12 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate resolves identity claims to a user row, creating the user with
// role customer on first login. requestedRole is the login-time role hint; it
// never grants anything. When the hint names a privileged role that does not
// match the stored role, authentication fails with no mutation.
func (s *Service) Authenticate(ctx context.Context, claims *oidc.Claims, requestedRole string) (*models.User, bool, error) {
	if claims == nil || claims.SubjectID == "" || claims.Email == "" {
		return nil, false, dErrors.New(dErrors.CodeUnauthorized, "identity claims are incomplete")
	}

	hint, hintPrivileged := parseHint(requestedRole)

	user, err := s.users.FindBySubject(ctx, claims.SubjectID)
	switch {
	case err == nil:
		if hintPrivileged && user.Role != hint {
			s.logWarn(ctx, "privileged role hint rejected",
				"subject_id", claims.SubjectID,
				"requested_role", requestedRole,
				"stored_role", string(user.Role),
			)
			return nil, false, dErrors.Newf(dErrors.CodeForbidden, "access denied: your role is %s", user.Role)
		}
		return user, false, nil

	case errors.Is(err, sentinel.ErrNotFound):
		// New identity. A privileged hint cannot be satisfied because the
		// stored role would be customer, so fail before creating anything.
		if hintPrivileged {
			return nil, false, dErrors.New(dErrors.CodeForbidden, "access denied: your role is customer")
		}
		return s.createUser(ctx, claims)

	default:
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}
}

func (s *Service) createUser(ctx context.Context, claims *oidc.Claims) (*models.User, bool, error) {
	user, err := models.NewUser(uuid.New(), claims.SubjectID, claims.Email, models.RoleCustomer, time.Now())
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to construct user")
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    user.ID,
			Action:    audit.ActionUserCreated,
			Detail:    user.Email,
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Concurrent first login with the same subject; the other writer
			// won, so return its row.
			if existing, findErr := s.users.FindBySubject(ctx, claims.SubjectID); findErr == nil {
				return existing, false, nil
			}
			return nil, false, dErrors.New(dErrors.CodeConflict, "user already exists")
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	if s.metrics != nil {
		s.metrics.UsersCreated.Inc()
	}
	s.logInfo(ctx, "user created", "user_id", user.ID, "email", user.Email)
	return user, true, nil
}

// StartSession mints a session token for an authenticated user and persists
// the session record. Only the bcrypt hash of the token is stored.
func (s *Service) StartSession(ctx context.Context, user *models.User, ipAddress, userAgent string) (*models.Session, string, error) {
	sessionID := uuid.New()
	signed, err := s.tokens.Generate(user.ID, sessionID, string(user.Role), s.sessionTTL)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint session token")
	}
	tokenHash, err := secrets.Hash(signed)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash session token")
	}

	now := time.Now()
	session := &models.Session{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: tokenHash,
		IPAddress: ipAddress,
		Device:    deviceSummary(userAgent),
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}

	s.logInfo(ctx, "session created",
		"user_id", user.ID,
		"session_id", sessionID,
		"device", session.Device,
	)
	return session, signed, nil
}

// EndSession removes a session record. Missing sessions are not an error;
// logout is idempotent.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	return nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return user, nil
}

// parseHint interprets the login-time role selector. Unknown values are
// ignored (it is a hint, not an instruction); only a well-formed privileged
// hint participates in the role check.
func parseHint(requestedRole string) (models.Role, bool) {
	hint, err := models.ParseRole(requestedRole)
	if err != nil {
		return "", false
	}
	return hint, hint.Privileged()
}

// deviceSummary condenses a User-Agent header into a short browser/OS label.
func deviceSummary(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	if os := ua.OS(); os != "" {
		return name + " " + version + " on " + os
	}
	return name + " " + version
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
