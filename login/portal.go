// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package login

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-foundation/atrium/lib/clock"
	"github.com/atrium-foundation/atrium/lib/netutil"
	"github.com/atrium-foundation/atrium/session"
)

// User is one portal account.
type User struct {
	Login        string
	PasswordHash string
	Roles        []string
}

// UserSource resolves a login name to an account. Implementations
// must be safe for concurrent use; the portal calls Lookup per login
// attempt, so a reloadable implementation makes account changes take
// effect without restarting.
type UserSource interface {
	Lookup(login string) (User, bool)
}

// StaticUsers is a fixed account list implementing UserSource.
type StaticUsers []User

func (u StaticUsers) Lookup(login string) (User, bool) {
	for _, user := range u {
		if user.Login == login {
			return user, true
		}
	}
	return User{}, false
}

// Credentials is the login request payload.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Identity is the whoami and login response payload.
type Identity struct {
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config wires a Portal.
type Config struct {
	// Codec seals and opens session cookies. Required.
	Codec *session.Codec

	// Users resolves login attempts. Required.
	Users UserSource

	// CookieName defaults to session.DefaultCookieName.
	CookieName string

	// SessionTTL is the lifetime of minted sessions. Defaults to 24h.
	SessionTTL time.Duration

	// LoginPath is where the login endpoint is mounted. Defaults to
	// /login.
	LoginPath string

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Portal serves the login, whoami, logout, and health endpoints.
type Portal struct {
	codec      *session.Codec
	users      UserSource
	cookieName string
	sessionTTL time.Duration
	loginPath  string
	mux        *http.ServeMux
	clock      clock.Clock
	log        *slog.Logger
}

// dummyHash is compared against when the login is unknown, so unknown
// and wrong-password attempts take the same time.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// NewPortal builds the portal handler.
func NewPortal(config Config) (*Portal, error) {
	if config.Codec == nil {
		return nil, fmt.Errorf("session codec is required")
	}
	if config.Users == nil {
		return nil, fmt.Errorf("user source is required")
	}
	if config.CookieName == "" {
		config.CookieName = session.DefaultCookieName
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	p := &Portal{
		codec:      config.Codec,
		users:      config.Users,
		cookieName: config.CookieName,
		sessionTTL: config.SessionTTL,
		loginPath:  config.LoginPath,
		clock:      config.Clock,
		log:        config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+config.LoginPath, p.handleLoginPage)
	mux.HandleFunc("POST "+config.LoginPath, p.handleLogin)
	mux.HandleFunc("GET /whoami", p.handleWhoami)
	mux.HandleFunc("POST /logout", p.handleLogout)
	mux.HandleFunc("GET /health", p.handleHealth)
	p.mux = mux

	return p, nil
}

func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// loginPage is the browser fallback served at GET login_path, so the
// dispatcher's unauthenticated redirect lands on a working form
// instead of a method-not-allowed dead end. The form posts back to
// the same path; the validated next target rides along as a hidden
// field.
const loginPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Atrium login</title></head>
<body>
<form method="post" action="%s">
<input type="hidden" name="next" value="%s">
<label>Login <input name="login" autocomplete="username" autofocus></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`

func (p *Portal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))

	action := p.loginPath
	if next != "" {
		action += "?next=" + url.QueryEscape(next)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, loginPage, html.EscapeString(action), html.EscapeString(next))
}

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, fromForm, err := decodeCredentials(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, known := p.users.Lookup(creds.Login)
	hash := dummyHash
	if known {
		hash = []byte(user.PasswordHash)
	}
	// Unknown logins and wrong passwords must be indistinguishable,
	// in both the response and the time taken.
	if err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)); err != nil || !known {
		p.log.Info("failed login attempt", "login", creds.Login)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := p.clock.Now()
	s := session.Session{
		Subject:   user.Login,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.sessionTTL),
	}
	if len(user.Roles) > 0 {
		s = s.WithRoles(user.Roles)
	}
	http.SetCookie(w, p.codec.NewCookie(p.cookieName, s))

	p.log.Info("login", "subject", user.Login)

	next := safeNext(r.URL.Query().Get("next"))
	if next == "" && fromForm {
		next = safeNext(r.PostFormValue("next"))
	}
	if next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	if fromForm {
		// Browser flow without a return target lands on the site root.
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, Identity{Subject: s.Subject, Roles: s.Roles(), ExpiresAt: s.ExpiresAt})
}

// decodeCredentials accepts the JSON API payload and browser form
// posts. The second return reports the form case, which changes the
// success response from JSON to a redirect.
func decodeCredentials(r *http.Request) (Credentials, bool, error) {
	contentType, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	if strings.TrimSpace(contentType) == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return Credentials{}, true, err
		}
		return Credentials{
			Login:    r.PostFormValue("login"),
			Password: r.PostFormValue("password"),
		}, true, nil
	}

	var creds Credentials
	if err := netutil.DecodeBody(r.Body, &creds); err != nil {
		return Credentials{}, false, err
	}
	return creds, false, nil
}

func (p *Portal) handleWhoami(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	s, err := p.codec.OpenValue(cookie.Value)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, Identity{Subject: s.Subject, Roles: s.Roles(), ExpiresAt: s.ExpiresAt})
}

func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Best-effort: the cookie is cleared client-side, but a stateless
	// session stays cryptographically valid until its expiry.
	http.SetCookie(w, session.ExpiredCookie(p.cookieName))
	w.WriteHeader(http.StatusNoContent)
}

func (p *Portal) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// safeNext accepts only same-origin absolute paths as a post-login
// redirect target. Anything with a scheme, host, or protocol-relative
// form ("//evil.example") is an open-redirect vector and is dropped.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return ""
	}
	if strings.ContainsAny(next, "\\\r\n") {
		return ""
	}
	return next
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
