package server

import (
	"net/http"
	"strings"
	"time"

	"bookstore/pkg/domain"
	"bookstore/services/api/internal/app"
)

type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

type sessionResponse struct {
	User                  domain.User `json:"user"`
	AccessToken           string      `json:"accessToken"`
	AccessTokenExpiresAt  time.Time   `json:"accessTokenExpiresAt"`
	RefreshToken          string      `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time   `json:"refreshTokenExpiresAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req app.RegisterInput
	if !decodeJSON(w, r, &req, false) {
		s.audit(r, "api.register", "fail", "reason", "invalid_json")
		return
	}
	session, err := s.app.Register(r.Context(), req)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", session.User.ID)
	s.writeSession(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req, false) {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		return
	}
	login := firstNonEmpty(req.Login, req.Email, req.Username)
	session, err := s.app.Login(r.Context(), login, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", session.User.ID)
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "api.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if !decodeJSON(w, r, &req, true) {
		s.audit(r, "api.refresh", "fail", "reason", "invalid_json")
		return
	}
	refresh := firstNonEmpty(req.RefreshToken, cookieValue(r, refreshCookie))
	access := firstNonEmpty(req.AccessToken, accessToken(r))
	session, err := s.app.Refresh(r.Context(), refresh, access)
	if err != nil {
		s.audit(r, "api.refresh", "fail", "reason", err.Error())
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.refresh", "success", "user_id", session.User.ID)
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.refreshLimiter, "too many logout attempts") {
		s.audit(r, "api.logout", "rate_limited")
		return
	}
	var req logoutRequest
	if !decodeJSON(w, r, &req, true) {
		s.audit(r, "api.logout", "fail", "reason", "invalid_json")
		return
	}
	access := accessToken(r)
	if access == "" {
		s.audit(r, "api.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	refresh := firstNonEmpty(req.RefreshToken, cookieValue(r, refreshCookie))
	if err := s.app.Logout(r.Context(), access, refresh); err != nil {
		s.audit(r, "api.logout", "fail", "reason", err.Error())
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.logout", "success")
	s.clearSessionCookies(w)
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeData(w, http.StatusOK, user)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.ProfileInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	updated, err := s.app.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	page, size := pageParams(r)
	users, err := s.app.ListUsers(r.Context(), keyword(r), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pageOf(users))
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteUser(r.Context(), admin.ID, id); err != nil {
		s.audit(r, "api.user.delete", "fail", "user_id", admin.ID, "target_id", id, "reason", err.Error())
		s.fail(w, r, err)
		return
	}
	s.audit(r, "api.user.delete", "success", "user_id", admin.ID, "target_id", id)
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) writeSession(w http.ResponseWriter, status int, session app.Session) {
	s.setCookie(w, sessionCookie, session.AccessToken)
	s.setCookie(w, refreshCookie, session.RefreshToken)
	writeData(w, status, sessionResponse{
		User:                  session.User,
		AccessToken:           session.AccessToken,
		AccessTokenExpiresAt:  session.AccessExpiresAt,
		RefreshToken:          session.RefreshToken,
		RefreshTokenExpiresAt: session.RefreshExpiresAt,
	})
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{sessionCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
