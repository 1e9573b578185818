package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openlibro/backend/middleware"
	"github.com/openlibro/backend/models"
	"github.com/openlibro/backend/service"
)

const maxCoverBytes = 5 << 20

type BooksHandler struct {
	Catalog *service.Catalog
	Covers  *service.CoverStore // nil when S3 is not configured
	Log     *logrus.Logger
}

type BookRequest struct {
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	PublishedDate *time.Time `json:"publishedDate"`
	ISBN          string     `json:"isbn"`
	Pages         *int       `json:"pages"`
	Genre         string     `json:"genre"`
}

// List handles GET /api/books with search, category, author, page, limit,
// sortBy and order query parameters. Responses are served read-through from
// the cache.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := models.ListQuery{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
		Author:   r.URL.Query().Get("author"),
		Page:     queryInt64(r, "page", 1),
		Limit:    queryInt64(r, "limit", 10),
		SortBy:   r.URL.Query().Get("sortBy"),
		Order:    r.URL.Query().Get("order"),
	}
	result, err := h.Catalog.List(r.Context(), q)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	nb := service.NewBook{
		Title:  strings.TrimSpace(req.Title),
		Author: strings.TrimSpace(req.Author),
		ISBN:   strings.TrimSpace(req.ISBN),
		Genre:  strings.TrimSpace(req.Genre),
	}
	if req.PublishedDate != nil {
		nb.PublishedDate = *req.PublishedDate
	}
	if req.Pages != nil {
		nb.Pages = *req.Pages
	}
	book, err := h.Catalog.Create(r.Context(), nb)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "book added", "book": book})
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := h.Catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title         *string    `json:"title"`
		Author        *string    `json:"author"`
		PublishedDate *time.Time `json:"publishedDate"`
		ISBN          *string    `json:"isbn"`
		Pages         *int       `json:"pages"`
		Genre         *string    `json:"genre"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	upd := models.BookUpdate{
		Title:         req.Title,
		Author:        req.Author,
		PublishedDate: req.PublishedDate,
		ISBN:          req.ISBN,
		Pages:         req.Pages,
		Genre:         req.Genre,
	}
	book, err := h.Catalog.Update(r.Context(), id, upd)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "book updated", "book": book})
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := h.Catalog.Delete(r.Context(), id)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	if h.Covers != nil && book.CoverKey != "" {
		if err := h.Covers.Delete(r.Context(), book.CoverKey); err != nil {
			h.Log.WithError(err).WithField("key", book.CoverKey).Warn("delete cover object")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "book deleted", "book": book})
}

func (h *BooksHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	book, err := h.Catalog.Borrow(r.Context(), id, p)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "book borrowed", "book": book})
}

func (h *BooksHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	book, err := h.Catalog.Return(r.Context(), id, p)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "book returned", "book": book})
}

func (h *BooksHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	result, err := h.Catalog.Analytics(r.Context())
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Filter handles GET /api/books/filter with minPages, maxPages and available.
func (h *BooksHandler) Filter(w http.ResponseWriter, r *http.Request) {
	var q models.FilterQuery
	if v := r.URL.Query().Get("minPages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid minPages")
			return
		}
		q.MinPages = &n
	}
	if v := r.URL.Query().Get("maxPages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid maxPages")
			return
		}
		q.MaxPages = &n
	}
	if v := r.URL.Query().Get("available"); v != "" {
		b := v == "true"
		q.Available = &b
	}
	result, err := h.Catalog.Filter(r.Context(), q)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UploadCover stores a cover image for the book (admin only).
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if h.Covers == nil {
		writeError(w, http.StatusServiceUnavailable, "cover storage not configured")
		return
	}
	book, err := h.Catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCoverBytes)
	if err := r.ParseMultipartForm(maxCoverBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing cover file")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "cover must be an image")
		return
	}
	key, err := h.Covers.Upload(r.Context(), header.Filename, file, contentType)
	if err != nil {
		h.Log.WithError(err).Error("upload cover")
		writeError(w, http.StatusInternalServerError, "failed to store cover")
		return
	}
	if err := h.Catalog.SetCover(r.Context(), id, key); err != nil {
		_ = h.Covers.Delete(r.Context(), key)
		writeServiceError(h.Log, w, err)
		return
	}
	if book.CoverKey != "" {
		if err := h.Covers.Delete(r.Context(), book.CoverKey); err != nil {
			h.Log.WithError(err).WithField("key", book.CoverKey).Warn("delete old cover object")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cover uploaded"})
}

// Cover streams the stored cover image. Public so <img src> works without
// credentials.
func (h *BooksHandler) Cover(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := h.Catalog.Get(r.Context(), id)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	if book.CoverKey == "" || h.Covers == nil {
		writeError(w, http.StatusNotFound, "no cover")
		return
	}
	body, contentType, err := h.Covers.Get(r.Context(), book.CoverKey)
	if err != nil {
		h.Log.WithError(err).Error("load cover")
		writeError(w, http.StatusInternalServerError, "failed to load cover")
		return
	}
	defer body.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	io.Copy(w, body)
}

func bookID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return primitive.NilObjectID, false
	}
	return id, true
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
