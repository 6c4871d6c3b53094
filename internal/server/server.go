package server

import (
	"database/sql"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"rpgforum/internal/models"
)

type Server struct {
	DB         *sql.DB
	Log        *zap.Logger
	CookieName string

	tmpl      map[string]*template.Template
	staticDir string
	handler   http.Handler
}

func New(db *sql.DB, templateDir string, log *zap.Logger) (*Server, error) {
	templates := map[string]*template.Template{}
	layout := filepath.Join(templateDir, "layout.html")
	pages, err := filepath.Glob(filepath.Join(templateDir, "*.html"))
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		if filepath.Base(page) == "layout.html" {
			continue
		}
		t, err := template.ParseFiles(layout, page)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(page), ".html")
		templates[name] = t
	}
	s := &Server{
		DB:         db,
		Log:        log,
		CookieName: "session_id",
		tmpl:       templates,
		staticDir:  filepath.Join(filepath.Dir(templateDir), "static"),
	}
	s.handler = s.logRequests(s.routes())
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	// "/" doubles as the fallback: any path the mux does not know renders
	// the topic list.
	mux.HandleFunc("/", s.handleTopicList)
	mux.HandleFunc("GET /topic/{id}", s.handleTopic)
	mux.HandleFunc("POST /topic/{id}/reply", s.handleReply)
	mux.HandleFunc("GET /new-topic", s.handleNewTopicForm)
	mux.HandleFunc("POST /new-topic", s.handleCreateTopic)
	mux.HandleFunc("GET /admin", s.handleAdmin)
	mux.HandleFunc("POST /admin/ban", s.handleBan)
	mux.HandleFunc("POST /admin/unban", s.handleUnban)
	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// category returns the selected category from the request, falling back to
// the first one. The selection is UI state carried in the URL, never
// persisted.
func (s *Server) category(r *http.Request) string {
	if c := r.URL.Query().Get("category"); models.ValidCategory(c) {
		return c
	}
	if c := r.FormValue("category"); models.ValidCategory(c) {
		return c
	}
	return models.Categories[0]
}

// baseData carries the layout fields every page needs.
func (s *Server) baseData(r *http.Request, v viewer) map[string]any {
	return map[string]any{
		"User":            v.User,
		"Categories":      models.Categories,
		"CurrentCategory": s.category(r),
	}
}

func (s *Server) render(w http.ResponseWriter, name string, code int, data any) {
	t, ok := s.tmpl[name]
	if !ok {
		s.Log.Error("template not found", zap.String("name", name))
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		s.Log.Error("render", zap.String("name", name), zap.Error(err))
	}
}

// notice renders a message page with a link back into the app. Validation
// failures end up here; state is never mutated first.
func (s *Server) notice(w http.ResponseWriter, r *http.Request, code int, msg, back string) {
	v := s.currentViewer(w, r)
	data := s.baseData(r, v)
	data["Message"] = msg
	data["BackURL"] = back
	s.render(w, "notice", code, data)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.Log.Error(msg, zap.Error(err))
	http.Error(w, "error", http.StatusInternalServerError)
}

func (s *Server) handleTopicList(w http.ResponseWriter, r *http.Request) {
	v := s.currentViewer(w, r)
	category := s.category(r)
	topics, err := models.ListTopics(s.DB, category)
	if err != nil {
		s.internalError(w, "list topics", err)
		return
	}
	data := s.baseData(r, v)
	data["Topics"] = topics
	s.render(w, "index", http.StatusOK, data)
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	v := s.currentViewer(w, r)
	id := r.PathValue("id")
	topic, err := models.GetTopic(s.DB, id)
	if err != nil {
		if errors.Is(err, models.ErrTopicNotFound) {
			s.notice(w, r, http.StatusNotFound, "Temat nie istnieje", "/")
			return
		}
		s.internalError(w, "get topic", err)
		return
	}
	data := s.baseData(r, v)
	data["Topic"] = topic
	data["CanReply"] = v.User != nil
	data["Banned"] = v.Banned
	s.render(w, "topic", http.StatusOK, data)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	content := strings.TrimSpace(r.FormValue("content"))
	if content == "" {
		s.notice(w, r, http.StatusBadRequest, "Napisz treść odpowiedzi.", "/topic/"+id)
		return
	}
	if err := models.AddReply(s.DB, id, user.Name, content, time.Now()); err != nil {
		if errors.Is(err, models.ErrTopicNotFound) {
			s.notice(w, r, http.StatusNotFound, "Temat nie znaleziony.", "/")
			return
		}
		s.internalError(w, "add reply", err)
		return
	}
	http.Redirect(w, r, "/topic/"+id, http.StatusSeeOther)
}

func (s *Server) handleNewTopicForm(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	s.render(w, "new_topic", http.StatusOK, s.baseData(r, viewer{User: user}))
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireLogin(w, r)
	if !ok {
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	content := strings.TrimSpace(r.FormValue("content"))
	if title == "" || content == "" {
		s.notice(w, r, http.StatusBadRequest, "Wypełnij tytuł i treść.", "/new-topic?category="+url.QueryEscape(s.category(r)))
		return
	}
	id := models.NewTopicID()
	if err := models.CreateTopic(s.DB, id, s.category(r), title, user.Name, content, time.Now()); err != nil {
		s.internalError(w, "create topic", err)
		return
	}
	http.Redirect(w, r, "/topic/"+id, http.StatusSeeOther)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	v := s.currentViewer(w, r)
	data := s.baseData(r, v)
	if v.User == nil || v.User.Name != models.AdminName {
		data["Denied"] = true
		s.render(w, "admin", http.StatusForbidden, data)
		return
	}
	banned, err := models.ListBanned(s.DB)
	if err != nil {
		s.internalError(w, "list banned", err)
		return
	}
	data["BannedUsers"] = banned
	s.render(w, "admin", http.StatusOK, data)
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	name := strings.TrimSpace(r.FormValue("username"))
	if name == "" {
		s.notice(w, r, http.StatusBadRequest, "Podaj nazwę użytkownika.", "/admin")
		return
	}
	if err := models.BanUser(s.DB, name); err != nil {
		switch {
		case errors.Is(err, models.ErrAdminBan):
			s.notice(w, r, http.StatusBadRequest, "Nie możesz zbanować Admina.", "/admin")
		case errors.Is(err, models.ErrAlreadyBanned):
			s.notice(w, r, http.StatusBadRequest, "Użytkownik już jest zbanowany.", "/admin")
		default:
			s.internalError(w, "ban user", err)
		}
		return
	}
	// Banning the active identity must end its session immediately.
	if err := models.RevokeUserSessions(s.DB, name); err != nil {
		s.internalError(w, "revoke sessions", err)
		return
	}
	s.Log.Info("user banned", zap.String("name", name))
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	name := strings.TrimSpace(r.FormValue("username"))
	if name == "" {
		s.notice(w, r, http.StatusBadRequest, "Podaj nazwę użytkownika.", "/admin")
		return
	}
	if err := models.UnbanUser(s.DB, name); err != nil {
		if errors.Is(err, models.ErrNotBanned) {
			s.notice(w, r, http.StatusBadRequest, "Użytkownik nie jest zbanowany.", "/admin")
			return
		}
		s.internalError(w, "unban user", err)
		return
	}
	s.Log.Info("user unbanned", zap.String("name", name))
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}
