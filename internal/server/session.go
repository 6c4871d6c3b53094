package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpgforum/internal/models"
)

// viewer is the resolved identity behind a request. Banned is set when the
// session named a banned user; by the time the caller sees it the session is
// already revoked.
type viewer struct {
	User   *models.User
	Banned bool
}

func (s *Server) currentViewer(w http.ResponseWriter, r *http.Request) viewer {
	cookie, err := r.Cookie(s.CookieName)
	if err != nil {
		return viewer{}
	}
	sess, err := models.GetSession(s.DB, cookie.Value)
	if err != nil || sess.RevokedAt != nil {
		return viewer{}
	}
	banned, err := models.IsBanned(s.DB, sess.Username)
	if err != nil {
		s.Log.Error("ban check", zap.Error(err))
		return viewer{}
	}
	if banned {
		// A banned user stays the session subject for at most this one
		// check: force the logout here.
		if err := models.RevokeSession(s.DB, sess.ID); err != nil {
			s.Log.Error("revoke session", zap.Error(err))
		}
		s.clearSessionCookie(w)
		return viewer{Banned: true}
	}
	user, err := models.GetUser(s.DB, sess.Username)
	if err != nil {
		return viewer{}
	}
	return viewer{User: user}
}

// requireLogin guards every posting action. On failure it has already
// rendered the notice and the caller must return.
func (s *Server) requireLogin(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	v := s.currentViewer(w, r)
	if v.Banned {
		s.notice(w, r, http.StatusForbidden, "Jesteś zbanowany i nie możesz wykonać tej akcji.", "/")
		return nil, false
	}
	if v.User == nil {
		s.notice(w, r, http.StatusForbidden, "Musisz być zalogowany, aby wykonać tę akcję.", "/login")
		return nil, false
	}
	return v.User, true
}

// requireAdmin re-validates identity on every admin mutation; the panel
// render gating alone is not trusted.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user, ok := s.requireLogin(w, r)
	if !ok {
		return false
	}
	if user.Name != models.AdminName {
		s.notice(w, r, http.StatusForbidden, "Brak dostępu. Zaloguj się jako Admin.", "/")
		return false
	}
	return true
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	v := s.currentViewer(w, r)
	s.render(w, "login", http.StatusOK, s.baseData(r, v))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("username"))
	if name == "" {
		s.notice(w, r, http.StatusBadRequest, "Podaj nazwę użytkownika.", "/login")
		return
	}
	// Typing "admin" in any case means the one privileged identity.
	if strings.EqualFold(name, models.AdminName) {
		name = models.AdminName
	}
	// A first-time name gets its user record even when the ban check below
	// refuses the session.
	if err := models.EnsureUser(s.DB, name); err != nil {
		s.internalError(w, "ensure user", err)
		return
	}
	banned, err := models.IsBanned(s.DB, name)
	if err != nil {
		s.internalError(w, "ban check", err)
		return
	}
	if banned {
		s.notice(w, r, http.StatusForbidden, "Ten użytkownik jest zbanowany.", "/")
		return
	}
	sid := uuid.NewString()
	if err := models.CreateSession(s.DB, name, sid); err != nil {
		s.internalError(w, "create session", err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: s.CookieName, Value: sid, Path: "/", HttpOnly: true})
	s.Log.Info("login", zap.String("user", name))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.CookieName); err == nil {
		if err := models.RevokeSession(s.DB, cookie.Value); err != nil {
			s.Log.Error("revoke session", zap.Error(err))
		}
		s.clearSessionCookie(w)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: s.CookieName, Path: "/", MaxAge: -1})
}
