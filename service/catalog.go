package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openlibro/backend/cache"
	"github.com/openlibro/backend/models"
)

// CatalogStore is the authoritative book collection.
//
// Contract: BorrowBook and ReturnBook MUST be atomic conditional updates:
// the availability check and the flip happen in a single store operation, and
// a nil book (with nil error) means nothing matched the condition. That
// atomicity is what serializes concurrent borrow attempts; an implementation
// that reads then writes in two steps is broken even if every test passes.
type CatalogStore interface {
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	BookByISBN(ctx context.Context, isbn string) (*models.Book, error)
	ListBooks(ctx context.Context, q models.ListQuery) ([]models.Book, int64, error)
	FilterBooks(ctx context.Context, q models.FilterQuery) ([]models.Book, error)
	UpdateBook(ctx context.Context, id primitive.ObjectID, upd models.BookUpdate) (*models.Book, error)
	DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	BorrowBook(ctx context.Context, id, userID primitive.ObjectID) (*models.Book, error)
	ReturnBook(ctx context.Context, id primitive.ObjectID, borrowedBy *primitive.ObjectID) (*models.Book, error)
	BooksBorrowedBy(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error)
	CountBooks(ctx context.Context) (int64, error)
	CountAvailableBooks(ctx context.Context) (int64, error)
	GenreCounts(ctx context.Context) ([]models.GenreCount, error)
	SetBookCover(ctx context.Context, id primitive.ObjectID, coverKey string) (bool, error)
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID primitive.ObjectID
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// NewBook is the input of Create; every field is required.
type NewBook struct {
	Title         string
	Author        string
	PublishedDate time.Time
	ISBN          string
	Pages         int
	Genre         string
}

// ListResult is the shape cached and returned for catalog list reads.
type ListResult struct {
	Books       []models.Book `json:"books"`
	TotalBooks  int64         `json:"totalBooks"`
	TotalPages  int64         `json:"totalPages"`
	CurrentPage int64         `json:"currentPage"`
}

// FilterResult is the shape cached and returned for filter reads.
type FilterResult struct {
	Total int           `json:"total"`
	Books []models.Book `json:"books"`
}

// AnalyticsResult is the catalog-wide aggregate.
type AnalyticsResult struct {
	TotalBooks     int64               `json:"totalBooks"`
	AvailableBooks int64               `json:"availableBooks"`
	BorrowedBooks  int64               `json:"borrowedBooks"`
	Genres         []models.GenreCount `json:"genres"`
}

// Catalog enforces the borrow/return state machine and keeps the read cache
// consistent with the store: every successful write is followed by a
// synchronous whole-cache invalidation, so no read can serve availability
// staler than the last mutation.
type Catalog struct {
	store        CatalogStore
	cache        cache.Cache
	log          *logrus.Logger
	listTTL      time.Duration
	analyticsTTL time.Duration
}

func NewCatalog(store CatalogStore, c cache.Cache, log *logrus.Logger, listTTL, analyticsTTL time.Duration) *Catalog {
	return &Catalog{
		store:        store,
		cache:        c,
		log:          log,
		listTTL:      listTTL,
		analyticsTTL: analyticsTTL,
	}
}

// Create validates and inserts a new book. New books start available.
func (c *Catalog) Create(ctx context.Context, nb NewBook) (*models.Book, error) {
	if nb.Title == "" || nb.Author == "" || nb.ISBN == "" || nb.Genre == "" ||
		nb.Pages <= 0 || nb.PublishedDate.IsZero() {
		return nil, fmt.Errorf("%w: title, author, publishedDate, isbn, pages and genre are required", ErrValidation)
	}
	existing, err := c.store.BookByISBN(ctx, nb.ISBN)
	if err != nil {
		return nil, fmt.Errorf("lookup isbn: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: book with this ISBN already exists", ErrValidation)
	}
	book := &models.Book{
		Title:         nb.Title,
		Author:        nb.Author,
		PublishedDate: nb.PublishedDate,
		ISBN:          nb.ISBN,
		Pages:         nb.Pages,
		Genre:         nb.Genre,
		Available:     true,
	}
	id, err := c.store.InsertBook(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	book.ID = id
	c.invalidate(ctx)
	return book, nil
}

// Update applies a partial update. Admin only; the handler gates the role.
func (c *Catalog) Update(ctx context.Context, id primitive.ObjectID, upd models.BookUpdate) (*models.Book, error) {
	if upd.ISBN != nil {
		existing, err := c.store.BookByISBN(ctx, *upd.ISBN)
		if err != nil {
			return nil, fmt.Errorf("lookup isbn: %w", err)
		}
		if existing != nil && existing.ID != id {
			return nil, fmt.Errorf("%w: book with this ISBN already exists", ErrValidation)
		}
	}
	book, err := c.store.UpdateBook(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("%w: book", ErrNotFound)
	}
	c.invalidate(ctx)
	return book, nil
}

// Delete removes the book and returns the deleted document so callers can
// clean up attachments such as the stored cover.
func (c *Catalog) Delete(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	book, err := c.store.DeleteBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("%w: book", ErrNotFound)
	}
	c.invalidate(ctx)
	return book, nil
}

// Borrow moves an available book to borrowed on behalf of the principal. Of
// two concurrent calls for the same book exactly one succeeds; the other sees
// ErrConflict, because the store transition is conditional on availability.
func (c *Catalog) Borrow(ctx context.Context, id primitive.ObjectID, p Principal) (*models.Book, error) {
	book, err := c.store.BorrowBook(ctx, id, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("borrow book: %w", err)
	}
	if book == nil {
		// No available book matched: missing or already borrowed.
		existing, err := c.store.BookByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup book: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: book", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: book is already borrowed", ErrConflict)
	}
	c.invalidate(ctx)
	return book, nil
}

// Return moves a borrowed book back to available. Permitted for the current
// borrower and for admins; anyone else gets ErrForbidden.
func (c *Catalog) Return(ctx context.Context, id primitive.ObjectID, p Principal) (*models.Book, error) {
	var expectBorrower *primitive.ObjectID
	if !p.IsAdmin() {
		uid := p.UserID
		expectBorrower = &uid
	}
	book, err := c.store.ReturnBook(ctx, id, expectBorrower)
	if err != nil {
		return nil, fmt.Errorf("return book: %w", err)
	}
	if book == nil {
		existing, err := c.store.BookByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup book: %w", err)
		}
		switch {
		case existing == nil:
			return nil, fmt.Errorf("%w: book", ErrNotFound)
		case existing.Available:
			return nil, fmt.Errorf("%w: book is not borrowed", ErrConflict)
		default:
			return nil, fmt.Errorf("%w: only the borrower or an admin may return this book", ErrForbidden)
		}
	}
	c.invalidate(ctx)
	return book, nil
}

// List is the read-through catalog query: cache hit returns the stored
// payload, miss queries the store and populates the cache. Cache failures
// other than a miss degrade to the store query.
func (c *Catalog) List(ctx context.Context, q models.ListQuery) (*ListResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	key := cache.ListKey(q)
	var result ListResult
	if ok := c.cached(ctx, key, &result); ok {
		return &result, nil
	}
	books, total, err := c.store.ListBooks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	result = ListResult{
		Books:       books,
		TotalBooks:  total,
		TotalPages:  (total + q.Limit - 1) / q.Limit,
		CurrentPage: q.Page,
	}
	c.put(ctx, key, &result, c.listTTL)
	return &result, nil
}

// Filter is the page-range/availability read, cached like List.
func (c *Catalog) Filter(ctx context.Context, q models.FilterQuery) (*FilterResult, error) {
	key := cache.FilterKey(q)
	var result FilterResult
	if ok := c.cached(ctx, key, &result); ok {
		return &result, nil
	}
	books, err := c.store.FilterBooks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter books: %w", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	result = FilterResult{Total: len(books), Books: books}
	c.put(ctx, key, &result, c.listTTL)
	return &result, nil
}

// Analytics computes the catalog-wide aggregate, cached under a fixed key.
func (c *Catalog) Analytics(ctx context.Context) (*AnalyticsResult, error) {
	var result AnalyticsResult
	if ok := c.cached(ctx, cache.AnalyticsKey, &result); ok {
		return &result, nil
	}
	total, err := c.store.CountBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}
	available, err := c.store.CountAvailableBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count available books: %w", err)
	}
	genres, err := c.store.GenreCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("genre counts: %w", err)
	}
	if genres == nil {
		genres = []models.GenreCount{}
	}
	result = AnalyticsResult{
		TotalBooks:     total,
		AvailableBooks: available,
		BorrowedBooks:  total - available,
		Genres:         genres,
	}
	c.put(ctx, cache.AnalyticsKey, &result, c.analyticsTTL)
	return &result, nil
}

// BorrowedBy lists the books currently held by a user. Uncached: the
// dashboard must always show the caller's own state fresh.
func (c *Catalog) BorrowedBy(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error) {
	books, err := c.store.BooksBorrowedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dashboard books: %w", err)
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

// Get returns a single book by id.
func (c *Catalog) Get(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	book, err := c.store.BookByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("%w: book", ErrNotFound)
	}
	return book, nil
}

// SetCover records the stored cover object key on the book.
func (c *Catalog) SetCover(ctx context.Context, id primitive.ObjectID, coverKey string) error {
	matched, err := c.store.SetBookCover(ctx, id, coverKey)
	if err != nil {
		return fmt.Errorf("set cover: %w", err)
	}
	if !matched {
		return fmt.Errorf("%w: book", ErrNotFound)
	}
	c.invalidate(ctx)
	return nil
}

// invalidate flushes the cache after a successful write. The write stands
// even if the flush fails: a broken cache also fails reads, which then fall
// through to the store, so stale data cannot be served either way.
func (c *Catalog) invalidate(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		c.log.WithError(err).Error("cache invalidation failed")
	}
}

func (c *Catalog) cached(ctx context.Context, key string, out any) bool {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrMiss {
			c.log.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache entry malformed")
		return false
	}
	return true
}

func (c *Catalog) put(ctx context.Context, key string, val any, ttl time.Duration) {
	raw, err := json.Marshal(val)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return
	}
	if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}
