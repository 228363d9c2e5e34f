// Package handler exposes the auth service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	auditdomain "helpdesk-auth/backend/internal/audit/domain"
	identityservice "helpdesk-auth/backend/internal/identity/service"
	sessiondomain "helpdesk-auth/backend/internal/session/domain"
	sessionservice "helpdesk-auth/backend/internal/session/service"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 16
	// activityLimit is how many recent auth events /auth/activity returns.
	activityLimit = 50
)

// AuthService is the subset of the auth service the handler calls.
type AuthService interface {
	IdentityResolver
	Register(ctx context.Context, in identityservice.RegisterInput) (*userdomain.User, error)
	Login(ctx context.Context, email, password string, meta sessiondomain.Metadata) (*identityservice.LoginResult, error)
	Logout(ctx context.Context, token string) (bool, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (bool, error)
	GetUserID(ctx context.Context, creds sessionservice.Credentials) (string, bool)
}

// ActivityLister lists a user's recent authentication events.
type ActivityLister interface {
	ListByUser(ctx context.Context, userID string, limit int32) ([]*auditdomain.Event, error)
}

// Handler serves the /auth routes.
type Handler struct {
	auth     AuthService
	activity ActivityLister
	cookies  CookieConfig
	log      logrus.FieldLogger
}

// New returns a handler over auth.
func New(auth AuthService, cookies CookieConfig, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{auth: auth, cookies: cookies, log: log.WithField("component", "http")}
}

// WithActivity enables GET /auth/activity backed by lister.
func (h *Handler) WithActivity(lister ActivityLister) *Handler {
	h.activity = lister
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/whoami", h.whoami).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(RequireIdentity(h.auth))
	protected.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	protected.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost)
	if h.activity != nil {
		protected.HandleFunc("/auth/activity", h.listActivity).Methods(http.MethodGet)
	}
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	RoleID   *string `json:"role_id"`
	TeamID   *string `json:"team_id"`
}

type userResponse struct {
	ID     string  `json:"id"`
	Email  string  `json:"email"`
	Name   string  `json:"name,omitempty"`
	RoleID *string `json:"role_id,omitempty"`
	TeamID *string `json:"team_id,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.auth.Register(r.Context(), identityservice.RegisterInput{
		Email: req.Email, Password: req.Password, Name: req.Name, RoleID: req.RoleID, TeamID: req.TeamID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Email: u.Email, Name: u.Name, RoleID: u.RoleID, TeamID: u.TeamID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Identity       sessiondomain.Identity `json:"identity"`
	SessionToken   string                 `json:"session_token"`
	SessionExpires time.Time              `json:"session_expires_at"`
	Proof          string                 `json:"proof"`
	ProofExpires   time.Time              `json:"proof_expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, metadataFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.SetCookie(w, h.cookies.cookie(SessionCookie, res.Session.Token, res.Session.ExpiresAt))
	http.SetCookie(w, h.cookies.cookie(ProofCookie, res.Proof, res.ProofExpiresAt))
	writeJSON(w, http.StatusOK, loginResponse{
		Identity:       res.Identity,
		SessionToken:   res.Session.Token,
		SessionExpires: res.Session.ExpiresAt,
		Proof:          res.Proof,
		ProofExpires:   res.ProofExpiresAt,
	})
}

// logout needs the opaque token: a bearer proof alone cannot revoke the durable session.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	creds := CredentialsFromRequest(r)
	if creds.Token == "" {
		writeUnauthorized(w)
		return
	}
	if _, err := h.auth.Logout(r.Context(), creds.Token); err != nil {
		h.writeError(w, err)
		return
	}
	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, id)
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.auth.GetUserID(r.Context(), CredentialsFromRequest(r))
	if !ok {
		writeUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	userID, _ := UserIDFromContext(r.Context())
	if _, err := h.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type activityResponse struct {
	Action    string    `json:"action"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	events, err := h.activity.ListByUser(r.Context(), userID, activityLimit)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", identityservice.ErrStoreUnavailable, err))
		return
	}
	out := make([]activityResponse, 0, len(events))
	for _, e := range events {
		out = append(out, activityResponse{Action: e.Action, IPAddress: e.IPAddress, UserAgent: e.UserAgent, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// writeError maps service errors to responses. Authentication failures of every kind
// share one body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials),
		errors.Is(err, identityservice.ErrAccountInactive),
		errors.Is(err, identityservice.ErrUnauthenticated):
		writeUnauthorized(w)
	case errors.Is(err, identityservice.ErrDuplicateEmail):
		writeJSON(w, http.StatusConflict, errorBody{Error: "email already registered"})
	case errors.Is(err, identityservice.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, identityservice.ErrStoreUnavailable):
		h.log.WithError(err).Warn("store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable"})
	default:
		h.log.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

func metadataFrom(r *http.Request) sessiondomain.Metadata {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return sessiondomain.Metadata{IPAddress: ip, UserAgent: r.UserAgent()}
}
