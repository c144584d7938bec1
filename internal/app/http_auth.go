package app

import (
	"net/http"
	"time"

	"agitracker/api/internal/auth"
)

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodPost && parts[0] == "signin":
		s.handleAuthSignIn(w, r)
	case r.Method == http.MethodPost && parts[0] == "signout":
		s.handleAuthSignOut(w, r)
	case r.Method == http.MethodGet && parts[0] == "session":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(session))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.service.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
	response := sessionResponse(session)
	response["accessToken"] = session.Token
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SignOut(r.Context(), auth.FromRequest(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func sessionResponse(session Session) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":    session.UserID,
			"name":  session.UserName,
			"email": session.Email,
			"role":  session.Role,
		},
		"expiresAt": session.ExpiresAt.Unix(),
	}
}
