package handlers

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendlog/internal/auth"
	applog "spendlog/internal/log"
	"spendlog/internal/models"
	"spendlog/internal/storage"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// FlashCookieName is the name of the one-time flash message cookie.
	FlashCookieName = "flash"
	// SessionDuration is how long sessions last (30 days).
	SessionDuration = 30 * 24 * time.Hour
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db           *storage.DB
	templates    fs.FS
	secureCookie bool
}

// NewHandlers creates a new Handlers instance. templates must contain the
// files under "templates/".
func NewHandlers(db *storage.DB, templates fs.FS, secureCookie bool) *Handlers {
	return &Handlers{db: db, templates: templates, secureCookie: secureCookie}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware wraps handlers to require authentication.
// It also implements rolling sessions: if a session is past the halfway point
// of its lifetime, it automatically renews the session.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		sessionInfo, err := h.db.ValidateSessionWithInfo(cookie.Value)
		if err != nil {
			// Invalid or expired session, clear the cookie
			h.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		// Rolling session: renew if past the halfway point so active users
		// stay logged in while inactive sessions still expire.
		now := time.Now()
		if sessionInfo.ExpiresAt.Sub(now) < SessionDuration/2 {
			newExpiresAt := now.Add(SessionDuration)
			if err := h.db.RenewSession(cookie.Value, newExpiresAt); err == nil {
				h.setSessionCookie(w, cookie.Value)
			}
			// If renewal fails, just continue with the current session
		}

		ctx := context.WithValue(r.Context(), UserContextKey, sessionInfo.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IndexViewModel holds data for the landing page.
type IndexViewModel struct {
	Username string
}

// Index renders the landing page for the authenticated user.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	h.render(w, r, "index.html", IndexViewModel{Username: user.Username})
}

// RegisterForm renders the registration page.
func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register.html", nil)
}

// Register handles the registration form submission.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth)

	if err := r.ParseForm(); err != nil {
		h.setFlash(w, "danger", "Invalid form submission.")
		http.Redirect(w, r, "/register", http.StatusFound)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	if username == "" || password == "" {
		h.setFlash(w, "danger", "Username and password are required.")
		http.Redirect(w, r, "/register", http.StatusFound)
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		logger.Error("failed to hash password", applog.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user, err := h.db.CreateUser(username, hash)
	if errors.Is(err, storage.ErrUsernameTaken) {
		h.setFlash(w, "danger", "Username already exists. Please choose a different one.")
		http.Redirect(w, r, "/register", http.StatusFound)
		return
	}
	if err != nil {
		logger.Error("failed to create user", applog.FieldError, err, applog.FieldUsername, username)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("user registered", applog.FieldUserID, user.ID, applog.FieldUsername, user.Username)
	h.setFlash(w, "success", "Registration successful! Please log in.")
	http.Redirect(w, r, "/login", http.StatusFound)
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	// If already logged in, go straight to the landing page
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if _, err := h.db.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}
	h.render(w, r, "login.html", nil)
}

// Login handles the login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth)

	if err := r.ParseForm(); err != nil {
		h.setFlash(w, "danger", "Invalid form submission.")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	// The same message regardless of which check failed, so that login
	// never reveals whether the username exists.
	user, err := h.db.GetUserByUsername(username)
	if username == "" || password == "" || err != nil || !auth.CheckPassword(password, user.PasswordHash) {
		h.setFlash(w, "danger", "Invalid credentials. Please try again.")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		logger.Error("failed to generate session token", applog.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.db.CreateSession(token, user.ID, time.Now().Add(SessionDuration)); err != nil {
		logger.Error("failed to create session", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in", applog.FieldUserID, user.ID, applog.FieldUsername, user.Username)
	h.setSessionCookie(w, token)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout handles user logout. Routed as POST only: ending a session is a
// state change.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := h.db.DeleteSession(cookie.Value); err != nil {
			applog.FromContext(r.Context()).Error("failed to delete session", applog.FieldError, err)
		}
	}
	h.clearSessionCookie(w)
	h.setFlash(w, "info", "You have been logged out.")
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// Flash is a one-time status message shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

// setFlash stores a flash message in a cookie consumed by the next render.
func (h *Handlers) setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    url.QueryEscape(kind + "|" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash reads and clears the flash cookie.
func (h *Handlers) popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(value, "|")
	if !ok {
		return &Flash{Kind: "info", Message: value}
	}
	return &Flash{Kind: kind, Message: message}
}

// page wraps per-view data with the pieces every template needs.
type page struct {
	LoggedIn bool
	Flash    *Flash
	Data     any
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate)

	tmpl, err := template.ParseFS(h.templates, "templates/base.html", "templates/"+viewName)
	if err != nil {
		logger.Error("template parse error", applog.FieldError, err, "view", viewName)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	p := page{
		LoggedIn: GetUserFromContext(r) != nil,
		Flash:    h.popFlash(w, r),
		Data:     data,
	}
	if err := tmpl.ExecuteTemplate(w, "base", p); err != nil {
		logger.Error("template execution error", applog.FieldError, err, "view", viewName)
	}
}
