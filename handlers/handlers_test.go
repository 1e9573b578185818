package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlibro/backend/handlers"
	"github.com/openlibro/backend/middleware"
	"github.com/openlibro/backend/models"
	"github.com/openlibro/backend/service"
	"github.com/openlibro/backend/testutil"
)

const testSecret = "test-secret"

type testServer struct {
	router *chi.Mux
	store  *testutil.MemStore
	cache  *testutil.MemCache
}

// newTestServer wires the real router shape with in-memory store and cache.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := testutil.NewMemStore()
	memCache := testutil.NewMemCache()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	catalog := service.NewCatalog(store, memCache, log, 10*time.Minute, 5*time.Minute)

	authHandler := &handlers.AuthHandler{
		Users:     store,
		Log:       log,
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
	}
	booksHandler := &handlers.BooksHandler{Catalog: catalog, Log: log}
	usersHandler := &handlers.UsersHandler{Users: store, Catalog: catalog, Log: log}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(testSecret))
			r.Get("/books", booksHandler.List)
			r.Post("/books", booksHandler.Create)
			r.Get("/books/filter", booksHandler.Filter)
			r.Get("/books/{id}", booksHandler.Get)
			r.Post("/books/{id}/borrow", booksHandler.Borrow)
			r.Post("/books/{id}/return", booksHandler.Return)
			r.Get("/users/me", usersHandler.Me)
			r.Get("/users/dashboard", usersHandler.Dashboard)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Put("/books/{id}", booksHandler.Update)
				r.Delete("/books/{id}", booksHandler.Delete)
				r.Get("/books/analytics", booksHandler.Analytics)
			})
		})
	})
	return &testServer{router: r, store: store, cache: memCache}
}

// newUser creates an account directly in the store and returns it with a
// signed token.
func (ts *testServer) newUser(t *testing.T, name, role string) (models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		Name:     name,
		Email:    name + "@example.com",
		Password: string(hash),
		Role:     role,
	}
	id, err := ts.store.CreateUser(context.Background(), &user)
	require.NoError(t, err)
	user.ID = id

	claims := &middleware.Claims{
		UserID: id.Hex(),
		Email:  user.Email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return user, token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedBook(title, isbn string) models.Book {
	return ts.store.Seed(models.Book{
		Title:         title,
		Author:        "Ursula K. Le Guin",
		PublishedDate: time.Date(1969, 3, 1, 0, 0, 0, 0, time.UTC),
		ISBN:          isbn,
		Pages:         304,
		Genre:         "science fiction",
		Available:     true,
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func Test_Signup_SetsCookie(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name":     "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.CookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	body := decode[map[string]handlers.UserSummary](t, rec)
	assert.Equal(t, "user", body["user"].Role, "signup never grants admin")
}

func Test_Signup_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.newUser(t, "alice", models.RoleUser)

	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name":     "alice2",
		"email":    "alice@example.com",
		"password": "secret123",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Login(t *testing.T) {
	ts := newTestServer(t)
	ts.newUser(t, "alice", models.RoleUser)

	t.Run("correct_password", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "secret123",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Result().Cookies())
	})

	t.Run("wrong_password", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown_email", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "secret123",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_Books_RequireAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/books", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_CreateBook(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.newUser(t, "alice", models.RoleUser)

	t.Run("valid", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/books", token, map[string]any{
			"title":         "The Dispossessed",
			"author":        "Ursula K. Le Guin",
			"publishedDate": "1974-05-01T00:00:00Z",
			"isbn":          "9780061054884",
			"pages":         387,
			"genre":         "science fiction",
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("missing_fields", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/books", token, map[string]any{
			"title": "No Author",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate_isbn", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/books", token, map[string]any{
			"title":         "The Dispossessed, again",
			"author":        "Ursula K. Le Guin",
			"publishedDate": "1974-05-01T00:00:00Z",
			"isbn":          "9780061054884",
			"pages":         387,
			"genre":         "science fiction",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_BorrowAndReturn_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, tokenU := ts.newUser(t, "alice", models.RoleUser)
	_, tokenV := ts.newUser(t, "bob", models.RoleUser)
	_, tokenAdmin := ts.newUser(t, "root", models.RoleAdmin)
	book := ts.seedBook("The Dispossessed", "9780061054884")
	path := "/api/books/" + book.ID.Hex()

	rec := ts.do(t, http.MethodPost, path+"/borrow", tokenU, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"/borrow", tokenV, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "double borrow is a conflict")

	rec = ts.do(t, http.MethodPost, path+"/return", tokenV, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-borrower may not return")

	rec = ts.do(t, http.MethodPost, path+"/return", tokenU, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"/return", tokenAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "returning an available book is a conflict")

	rec = ts.do(t, http.MethodPost, "/api/books/"+primitive.NewObjectID().Hex()+"/borrow", tokenU, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/books/not-an-id/borrow", tokenU, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_AdminReturn_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, tokenU := ts.newUser(t, "alice", models.RoleUser)
	_, tokenAdmin := ts.newUser(t, "root", models.RoleAdmin)
	book := ts.seedBook("The Dispossessed", "9780061054884")
	path := "/api/books/" + book.ID.Hex()

	rec := ts.do(t, http.MethodPost, path+"/borrow", tokenU, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"/return", tokenAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "admin may return any borrowed book")
}

func Test_AdminOnlyRoutes(t *testing.T) {
	ts := newTestServer(t)
	_, tokenU := ts.newUser(t, "alice", models.RoleUser)
	_, tokenAdmin := ts.newUser(t, "root", models.RoleAdmin)
	book := ts.seedBook("The Dispossessed", "9780061054884")
	path := "/api/books/" + book.ID.Hex()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "update", method: http.MethodPut, path: path, body: map[string]string{"title": "Renamed"}},
		{name: "analytics", method: http.MethodGet, path: "/api/books/analytics"},
		{name: "delete", method: http.MethodDelete, path: path},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tokenU, tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code, "plain user is rejected")

			rec = ts.do(t, tc.method, tc.path, tokenAdmin, tc.body)
			assert.Equal(t, http.StatusOK, rec.Code, "admin is allowed")
		})
	}
}

func Test_List_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.newUser(t, "alice", models.RoleUser)
	ts.seedBook("The Dispossessed", "111")
	ts.seedBook("A Wizard of Earthsea", "222")

	rec := ts.do(t, http.MethodGet, "/api/books?search=earthsea&page=1&limit=10", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[service.ListResult](t, rec)
	assert.Equal(t, int64(1), result.TotalBooks)
	require.Len(t, result.Books, 1)
	assert.Equal(t, "A Wizard of Earthsea", result.Books[0].Title)
}

func Test_Analytics_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, tokenAdmin := ts.newUser(t, "root", models.RoleAdmin)
	ts.seedBook("The Dispossessed", "111")

	rec := ts.do(t, http.MethodGet, "/api/books/analytics", tokenAdmin, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[service.AnalyticsResult](t, rec)
	assert.Equal(t, int64(1), result.TotalBooks)
	assert.Equal(t, int64(1), result.AvailableBooks)
	assert.Equal(t, int64(0), result.BorrowedBooks)
}

func Test_Dashboard_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, tokenU := ts.newUser(t, "alice", models.RoleUser)
	_, tokenV := ts.newUser(t, "bob", models.RoleUser)
	book := ts.seedBook("The Dispossessed", "111")
	ts.seedBook("A Wizard of Earthsea", "222")

	rec := ts.do(t, http.MethodPost, "/api/books/"+book.ID.Hex()+"/borrow", tokenU, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/users/dashboard", tokenU, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[map[string][]models.Book](t, rec)
	require.Len(t, mine["books"], 1)
	assert.Equal(t, book.ID, mine["books"][0].ID)

	rec = ts.do(t, http.MethodGet, "/api/users/dashboard", tokenV, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	theirs := decode[map[string][]models.Book](t, rec)
	assert.Empty(t, theirs["books"])
}

func Test_Me_HTTP(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.newUser(t, "alice", models.RoleUser)

	rec := ts.do(t, http.MethodGet, "/api/users/me", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password", "hash must never be serialized")
	got := decode[models.User](t, rec)
	assert.Equal(t, user.Email, got.Email)
	assert.Empty(t, got.Password)
}

func Test_Filter_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.newUser(t, "alice", models.RoleUser)
	ts.store.Seed(models.Book{Title: "short", Author: "a", ISBN: "111", Pages: 90, Genre: "novella", Available: true})
	ts.store.Seed(models.Book{Title: "long", Author: "a", ISBN: "222", Pages: 900, Genre: "epic", Available: true})

	rec := ts.do(t, http.MethodGet, "/api/books/filter?minPages=100&available=true", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[service.FilterResult](t, rec)
	assert.Equal(t, 1, result.Total)

	rec = ts.do(t, http.MethodGet, "/api/books/filter?minPages=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_StaleListAfterWrite_HTTP(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.newUser(t, "alice", models.RoleUser)
	book := ts.seedBook("The Dispossessed", "111")

	rec := ts.do(t, http.MethodGet, "/api/books", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[service.ListResult](t, rec)
	require.True(t, before.Books[0].Available)
	require.Equal(t, 1, ts.cache.Len(), "list response was cached")

	rec = ts.do(t, http.MethodPost, "/api/books/"+book.ID.Hex()+"/borrow", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/books", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[service.ListResult](t, rec)
	assert.False(t, after.Books[0].Available, "list after borrow must not serve the stale cache entry")
}

func Test_Logout_ClearsCookie(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/logout", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0, fmt.Sprintf("cookie max age %d should expire it", cookies[0].MaxAge))
}
