package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"helpdesk-auth/backend/internal/audit"
	auditdomain "helpdesk-auth/backend/internal/audit/domain"
	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/session/cache"
	sessiondomain "helpdesk-auth/backend/internal/session/domain"
	"helpdesk-auth/backend/internal/session/invalidation"
	sessionservice "helpdesk-auth/backend/internal/session/service"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

const (
	// DefaultSessionTTL is the lifetime of a durable session.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultProofTTL is the lifetime of a bearer proof. A revoked session stays usable
	// through its proofs for at most this long.
	DefaultProofTTL = 5 * time.Minute
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) (bool, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)
}

// SessionStore is the minimal session store needed by the auth service.
type SessionStore interface {
	Create(ctx context.Context, userID string, meta sessiondomain.Metadata, ttl time.Duration) (*sessiondomain.Session, error)
	FindByToken(ctx context.Context, token string) (*sessiondomain.Resolved, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	ListTokenHashesForUser(ctx context.Context, userID string) ([]string, error)
}

// Options configure an AuthService. Zero values take defaults.
type Options struct {
	SessionTTL   time.Duration
	ProofTTL     time.Duration
	StoreTimeout time.Duration
	Broadcaster  invalidation.Broadcaster
	Audit        audit.Recorder
	Logger       logrus.FieldLogger
	Now          func() time.Time
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	RoleID   *string
	TeamID   *string
}

// LoginResult carries both credentials issued at login: the opaque session token in
// Session.Token and the signed bearer Proof.
type LoginResult struct {
	User           *userdomain.User
	Session        *sessiondomain.Session
	Identity       sessiondomain.Identity
	Proof          string
	ProofExpiresAt time.Time
}

// AuthService implements register, login, logout, password change and deactivation on
// top of the session validator.
type AuthService struct {
	users     UserRepo
	sessions  SessionStore
	validator *sessionservice.Validator
	cache     *cache.Cache
	hasher    *security.Hasher
	codec     *security.ProofCodec
	bus       invalidation.Broadcaster
	audit     audit.Recorder
	log       logrus.FieldLogger
	now       func() time.Time

	sessionTTL   time.Duration
	proofTTL     time.Duration
	storeTimeout time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	sessions SessionStore,
	validator *sessionservice.Validator,
	hasher *security.Hasher,
	codec *security.ProofCodec,
	opts Options,
) *AuthService {
	s := &AuthService{
		users:        users,
		sessions:     sessions,
		validator:    validator,
		cache:        validator.Cache(),
		hasher:       hasher,
		codec:        codec,
		bus:          opts.Broadcaster,
		audit:        opts.Audit,
		log:          opts.Logger,
		now:          opts.Now,
		sessionTTL:   opts.SessionTTL,
		proofTTL:     opts.ProofTTL,
		storeTimeout: opts.StoreTimeout,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.proofTTL <= 0 {
		s.proofTTL = DefaultProofTTL
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = sessionservice.DefaultStoreTimeout
	}
	if s.bus == nil {
		s.bus = invalidation.Nop{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = s.log.WithField("component", "auth")
	return s
}

func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Register creates an active user. RoleID and TeamID are stored as given.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*userdomain.User, error) {
	email := userdomain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, inputErr(err)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, inputErr(err)
	}
	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return nil, inputErr(err)
		}
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hashed,
		Name:         strings.TrimSpace(in.Name),
		RoleID:       nonEmpty(in.RoleID),
		TeamID:       nonEmpty(in.TeamID),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, inputErr(err)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.users.Create(sctx, user); err != nil {
		if errors.Is(err, userdomain.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, storeErr(err)
	}
	s.audit.Record(ctx, auditdomain.Event{UserID: user.ID, Action: auditdomain.ActionRegister})
	s.log.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Login verifies email and password, creates a session and mints a bearer proof bound
// to it. Unknown email and wrong password are indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password string, meta sessiondomain.Metadata) (*LoginResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	sctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}
	if user == nil {
		// Spend the same bcrypt work as a real comparison.
		s.hasher.Verify([]byte(password), s.dummy())
		s.recordLogin(ctx, auditdomain.ActionLoginFailure, "", meta, "unknown email")
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify([]byte(password), user.PasswordHash) {
		s.recordLogin(ctx, auditdomain.ActionLoginFailure, user.ID, meta, "wrong password")
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		s.recordLogin(ctx, auditdomain.ActionLoginFailure, user.ID, meta, "inactive")
		return nil, ErrAccountInactive
	}
	s.maybeRehash(ctx, user, password)

	sctx, cancel = s.storeCtx(ctx)
	defer cancel()
	sess, err := s.sessions.Create(sctx, user.ID, meta, s.sessionTTL)
	if err != nil {
		return nil, storeErr(err)
	}
	// Resolve through the atomic lookup so the identity carries role and team names and
	// a deactivation racing the login is honoured.
	gen := s.cache.Generation()
	resolved, err := s.sessions.FindByToken(sctx, sess.Token)
	if err != nil {
		return nil, storeErr(err)
	}
	if resolved == nil {
		return nil, ErrAccountInactive
	}
	identity := resolved.Identity()
	s.cache.PutIfGeneration(gen, sess.TokenHash, cache.Entry{
		Session:  resolved.Session,
		User:     resolved.User,
		Identity: identity,
	})

	proof, proofExp, err := s.codec.Encode(claimsFor(identity), s.proofTTL)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, auditdomain.ActionLoginSuccess, user.ID, meta, "")
	s.log.WithField("user_id", user.ID).WithField("session_id", sess.ID).Info("login")
	return &LoginResult{
		User:           &resolved.User,
		Session:        sess,
		Identity:       identity,
		Proof:          proof,
		ProofExpiresAt: proofExp,
	}, nil
}

// Logout revokes the session for token. The cache entry is dropped before the row is
// deleted and again after it, so a reader that loaded the row in between cannot leave
// it cached. Returns whether a session was deleted.
func (s *AuthService) Logout(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	hash := security.HashSessionToken(token)
	var userID string
	if e, ok := s.cache.Get(hash); ok {
		userID = e.User.ID
	}
	s.cache.Invalidate(hash)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	deleted, err := s.sessions.DeleteByToken(sctx, token)
	// A reader that missed the cache before the delete may have re-cached the row.
	s.cache.Invalidate(hash)
	if err != nil {
		return false, storeErr(err)
	}
	s.bus.TokenRevoked(ctx, hash)
	if deleted {
		s.audit.Record(ctx, auditdomain.Event{UserID: userID, Action: auditdomain.ActionLogout})
	}
	return deleted, nil
}

// ChangePassword replaces the password after verifying the old one, then revokes every
// session of the user including the caller's.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidCredentials
	}
	sctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByID(sctx, userID)
	cancel()
	if err != nil {
		return false, storeErr(err)
	}
	if user == nil || !s.hasher.Verify([]byte(oldPassword), user.PasswordHash) {
		return false, ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return false, inputErr(err)
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return false, inputErr(err)
	}
	sctx, cancel = s.storeCtx(ctx)
	updated, err := s.users.UpdatePasswordHash(sctx, userID, hashed, s.now().UTC())
	cancel()
	if err != nil {
		return false, storeErr(err)
	}
	if !updated {
		return false, ErrInvalidCredentials
	}
	n, err := s.revokeAll(ctx, userID)
	if err != nil {
		return false, err
	}
	s.audit.Record(ctx, auditdomain.Event{UserID: userID, Action: auditdomain.ActionPasswordChanged})
	s.log.WithField("user_id", userID).WithField("revoked", n).Info("password changed")
	return true, nil
}

// Deactivate marks the user inactive and revokes all of their sessions.
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	sctx, cancel := s.storeCtx(ctx)
	changed, err := s.users.SetActive(sctx, userID, false, s.now().UTC())
	cancel()
	if err != nil {
		return storeErr(err)
	}
	if !changed {
		return ErrUserNotFound
	}
	n, err := s.revokeAll(ctx, userID)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, auditdomain.Event{UserID: userID, Action: auditdomain.ActionUserDeactivated})
	s.log.WithField("user_id", userID).WithField("revoked", n).Info("user deactivated")
	return nil
}

// revokeAll drops the user's cache entries, deletes their rows, drops any entry re-cached
// while the delete ran and tells other instances.
func (s *AuthService) revokeAll(ctx context.Context, userID string) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	hashes, err := s.sessions.ListTokenHashesForUser(sctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("listing sessions failed; scanning cache")
		s.cache.InvalidateAllForUser(userID)
	} else {
		for _, h := range hashes {
			s.cache.Invalidate(h)
		}
	}
	n, err := s.sessions.DeleteAllForUser(sctx, userID)
	s.cache.InvalidateAllForUser(userID)
	if err != nil {
		return 0, storeErr(err)
	}
	s.bus.UserRevoked(ctx, userID)
	return n, nil
}

// GetCurrentIdentity resolves creds to the full identity. It never returns an error.
func (s *AuthService) GetCurrentIdentity(ctx context.Context, creds sessionservice.Credentials) (*sessiondomain.Identity, bool) {
	res := s.validator.Validate(ctx, creds)
	if !res.OK() {
		return nil, false
	}
	id := res.Identity
	return &id, true
}

// Authenticate is GetCurrentIdentity reporting failure as ErrUnauthenticated.
func (s *AuthService) Authenticate(ctx context.Context, creds sessionservice.Credentials) (*sessiondomain.Identity, error) {
	id, ok := s.GetCurrentIdentity(ctx, creds)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return id, nil
}

// GetUserID resolves only the user id, preferring the bearer proof and then the light
// session lookup.
func (s *AuthService) GetUserID(ctx context.Context, creds sessionservice.Credentials) (string, bool) {
	if creds.Bearer != "" {
		if res := s.validator.Validate(ctx, sessionservice.Credentials{Bearer: creds.Bearer}); res.OK() {
			return res.Identity.UserID, true
		}
	}
	ref := s.validator.ValidateRef(ctx, creds.Token)
	if !ref.OK() {
		return "", false
	}
	return ref.UserID, true
}

func (s *AuthService) recordLogin(ctx context.Context, action, userID string, meta sessiondomain.Metadata, reason string) {
	s.audit.Record(ctx, auditdomain.Event{
		UserID:    userID,
		Action:    action,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  reason,
	})
}

func (s *AuthService) maybeRehash(ctx context.Context, user *userdomain.User, password string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.users.UpdatePasswordHash(sctx, user.ID, hashed, s.now().UTC()); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("password rehash failed")
	}
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash([]byte("timing-equalizer-" + uuid.NewString()))
	})
	return s.dummyHash
}

func claimsFor(id sessiondomain.Identity) security.ProofClaims {
	c := security.ProofClaims{
		Email:     id.Email,
		Name:      id.Name,
		RoleID:    id.RoleID,
		RoleName:  id.RoleName,
		TeamID:    id.TeamID,
		TeamName:  id.TeamName,
		SessionID: id.SessionID,
	}
	c.Subject = id.UserID
	return c
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
