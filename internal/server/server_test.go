package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rpgforum/internal/db"
	"rpgforum/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	srv, err := New(database, "../../web/templates", zaptest.NewLogger(t))
	require.NoError(t, err)
	return srv
}

func postForm(srv *Server, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func get(srv *Server, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, srv *Server, name string) *http.Cookie {
	t.Helper()
	w := postForm(srv, "/login", url.Values{"username": {name}}, nil)
	require.Equal(t, http.StatusSeeOther, w.Code, "login %q", name)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "login %q set no cookie", name)
	return cookies[0]
}

func TestLoginCreatesUserOnce(t *testing.T) {
	srv := newTestServer(t)

	cookie := login(t, srv, "alice")
	w := get(srv, "/", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Zalogowany jako: alice")

	u, err := models.GetUser(srv.DB, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.PostCount)

	// Second login with the same name reuses the record.
	login(t, srv, "alice")
	u, err = models.GetUser(srv.DB, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.PostCount)
}

func TestLoginEmptyName(t *testing.T) {
	srv := newTestServer(t)
	w := postForm(srv, "/login", url.Values{"username": {"   "}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Podaj nazwę użytkownika.")
}

func TestAdminNameNormalized(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "aDmIn")

	w := get(srv, "/admin", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Zarządzaj użytkownikami")

	_, err := models.GetUser(srv.DB, models.AdminName)
	assert.NoError(t, err, "normalized Admin record should exist")
}

func TestAdminPanelDeniedForOthers(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := get(srv, "/admin", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Brak dostępu. Zaloguj się jako Admin.")
	assert.NotContains(t, body, "/admin/ban", "denied view must carry no controls")
}

func TestCreateTopicAndReplyScenario(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := postForm(srv, "/new-topic", url.Values{
		"title":    {"Hello"},
		"content":  {"First post"},
		"category": {"Tematy"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)
	loc := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/topic/"), "redirect to new topic, got %q", loc)
	id := strings.TrimPrefix(loc, "/topic/")

	w = postForm(srv, loc+"/reply", url.Values{"content": {"Reply1"}}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = get(srv, loc, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, "First post")
	assert.Contains(t, body, "Reply1")

	topic, err := models.GetTopic(srv.DB, id)
	require.NoError(t, err)
	assert.Len(t, topic.Posts, 2)

	u, err := models.GetUser(srv.DB, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, u.PostCount)

	// The new topic leads its category list.
	w = get(srv, "/?category=Tematy", nil)
	assert.Contains(t, w.Body.String(), "Hello")
}

func TestCreateTopicValidation(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := postForm(srv, "/new-topic", url.Values{"title": {"  "}, "content": {"treść"}}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Wypełnij tytuł i treść.")

	u, err := models.GetUser(srv.DB, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.PostCount, "failed create must not mutate")
}

func TestReplyValidation(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := postForm(srv, "/topic/zzz/reply", url.Values{"content": {"  "}}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Napisz treść odpowiedzi.")

	w = postForm(srv, "/topic/zzz/reply", url.Values{"content": {"treść"}}, cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Temat nie znaleziony.")
}

func TestPostingRequiresLogin(t *testing.T) {
	srv := newTestServer(t)

	w := get(srv, "/new-topic", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Musisz być zalogowany, aby wykonać tę akcję.")

	w = postForm(srv, "/topic/zzz/reply", url.Values{"content": {"treść"}}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBanActiveSessionForcesLogout(t *testing.T) {
	srv := newTestServer(t)
	bobCookie := login(t, srv, "bob")
	adminCookie := login(t, srv, "admin")

	w := postForm(srv, "/admin/ban", url.Values{"username": {"bob"}}, adminCookie)
	require.Equal(t, http.StatusSeeOther, w.Code)

	// Bob's session is gone: the guard fails before any posting action.
	w = get(srv, "/new-topic", bobCookie)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(srv, "/", bobCookie)
	assert.Contains(t, w.Body.String(), "Nie zalogowany")

	sess, err := models.GetSession(srv.DB, bobCookie.Value)
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt)
}

func TestGuardRevokesStaleBannedSession(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "bob")

	// Ban lands while the session row is still live; the next guard check
	// must end it.
	require.NoError(t, models.BanUser(srv.DB, "bob"))

	w := get(srv, "/new-topic", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Jesteś zbanowany i nie możesz wykonać tej akcji.")

	sess, err := models.GetSession(srv.DB, cookie.Value)
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt, "guard check forces logout")
}

func TestBanValidation(t *testing.T) {
	srv := newTestServer(t)
	adminCookie := login(t, srv, "admin")

	w := postForm(srv, "/admin/ban", url.Values{"username": {"Admin"}}, adminCookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Nie możesz zbanować Admina.")

	w = postForm(srv, "/admin/ban", url.Values{"username": {"bob"}}, adminCookie)
	require.Equal(t, http.StatusSeeOther, w.Code)
	w = postForm(srv, "/admin/ban", url.Values{"username": {"bob"}}, adminCookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Użytkownik już jest zbanowany.")

	banned, err := models.ListBanned(srv.DB)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, banned)
}

func TestUnbanNotBanned(t *testing.T) {
	srv := newTestServer(t)
	adminCookie := login(t, srv, "admin")

	w := postForm(srv, "/admin/unban", url.Values{"username": {"ghost"}}, adminCookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Użytkownik nie jest zbanowany.")

	banned, err := models.ListBanned(srv.DB)
	require.NoError(t, err)
	assert.Empty(t, banned)
}

func TestBannedUserCannotLogIn(t *testing.T) {
	srv := newTestServer(t)
	adminCookie := login(t, srv, "admin")
	postForm(srv, "/admin/ban", url.Values{"username": {"eve"}}, adminCookie)

	w := postForm(srv, "/login", url.Values{"username": {"eve"}}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Ten użytkownik jest zbanowany.")
	assert.Empty(t, w.Result().Cookies(), "no session for a banned name")
}

func TestTopicNotFoundView(t *testing.T) {
	srv := newTestServer(t)
	w := get(srv, "/topic/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Temat nie istnieje")
}

func TestUnknownPathFallsBackToList(t *testing.T) {
	srv := newTestServer(t)
	w := get(srv, "/no/such/page", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kategoria: Tematy")
}

func TestUserContentEscaped(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	payload := `<img src=x onerror=alert(1)>`
	w := postForm(srv, "/new-topic", url.Values{
		"title":    {payload},
		"content":  {"treść"},
		"category": {"Tematy"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = get(srv, "/?category=Tematy", nil)
	body := w.Body.String()
	assert.Contains(t, body, "&lt;img")
	assert.NotContains(t, body, payload)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := postForm(srv, "/logout", url.Values{}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = get(srv, "/", cookie)
	assert.Contains(t, w.Body.String(), "Nie zalogowany")
}

func TestTopicViewReplyAffordance(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "alice")

	w := postForm(srv, "/new-topic", url.Values{
		"title":    {"Hello"},
		"content":  {"First post"},
		"category": {"Tematy"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)
	loc := w.Header().Get("Location")

	// Logged in: reply form present.
	body := get(srv, loc, cookie).Body.String()
	assert.Contains(t, body, "Dodaj odpowiedź")

	// Logged out: login prompt instead.
	body = get(srv, loc, nil).Body.String()
	assert.NotContains(t, body, "Dodaj odpowiedź")
	assert.Contains(t, body, "Zaloguj się, aby pisać posty.")

	// Banned while the session row is still live: banned notice.
	bobCookie := login(t, srv, "bob")
	require.NoError(t, models.BanUser(srv.DB, "bob"))
	body = get(srv, loc, bobCookie).Body.String()
	assert.NotContains(t, body, "Dodaj odpowiedź")
	assert.Contains(t, body, "Jesteś zbanowany i nie możesz pisać postów.")
}
