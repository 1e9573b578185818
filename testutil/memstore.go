// Package testutil provides in-memory doubles for the Mongo store and the
// Redis cache so the catalog service can be exercised without infrastructure.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openlibro/backend/models"
)

// MemStore is a mutex-guarded in-memory book and user collection. The borrow
// and return transitions check and flip availability under the same lock,
// matching the atomicity contract of the real store.
type MemStore struct {
	mu    sync.Mutex
	books map[primitive.ObjectID]models.Book
	users map[primitive.ObjectID]models.User
}

func NewMemStore() *MemStore {
	return &MemStore{
		books: make(map[primitive.ObjectID]models.Book),
		users: make(map[primitive.ObjectID]models.User),
	}
}

// Seed inserts a book directly, bypassing the service layer.
func (s *MemStore) Seed(book models.Book) models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book.ID.IsZero() {
		book.ID = primitive.NewObjectID()
	}
	s.books[book.ID] = book
	return book
}

// Snapshot returns copies of all books for invariant checks.
func (s *MemStore) Snapshot() []models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	return out
}

func (s *MemStore) InsertBook(_ context.Context, book *models.Book) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := primitive.NewObjectID()
	book.ID = id
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now
	s.books[id] = *book
	return id, nil
}

func (s *MemStore) BookByID(_ context.Context, id primitive.ObjectID) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (s *MemStore) BookByISBN(_ context.Context, isbn string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.books {
		if b.ISBN == isbn {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListBooks(_ context.Context, q models.ListQuery) ([]models.Book, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Book
	for _, b := range s.books {
		if q.Search != "" && !strings.Contains(strings.ToLower(b.Title), strings.ToLower(q.Search)) {
			continue
		}
		if q.Category != "" && b.Genre != q.Category {
			continue
		}
		if q.Author != "" && b.Author != q.Author {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.SortBy == "title" {
			if q.Order == "desc" {
				return matched[i].Title > matched[j].Title
			}
			return matched[i].Title < matched[j].Title
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemStore) FilterBooks(_ context.Context, q models.FilterQuery) ([]models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Book
	for _, b := range s.books {
		if q.MinPages != nil && b.Pages < *q.MinPages {
			continue
		}
		if q.MaxPages != nil && b.Pages > *q.MaxPages {
			continue
		}
		if q.Available != nil && b.Available != *q.Available {
			continue
		}
		matched = append(matched, b)
	}
	return matched, nil
}

func (s *MemStore) UpdateBook(_ context.Context, id primitive.ObjectID, upd models.BookUpdate) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, nil
	}
	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = *upd.Author
	}
	if upd.PublishedDate != nil {
		b.PublishedDate = *upd.PublishedDate
	}
	if upd.ISBN != nil {
		b.ISBN = *upd.ISBN
	}
	if upd.Pages != nil {
		b.Pages = *upd.Pages
	}
	if upd.Genre != nil {
		b.Genre = *upd.Genre
	}
	b.UpdatedAt = time.Now()
	s.books[id] = b
	return &b, nil
}

func (s *MemStore) DeleteBook(_ context.Context, id primitive.ObjectID) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, nil
	}
	delete(s.books, id)
	return &b, nil
}

func (s *MemStore) BorrowBook(_ context.Context, id, userID primitive.ObjectID) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok || !b.Available {
		return nil, nil
	}
	uid := userID
	b.Available = false
	b.BorrowedBy = &uid
	b.UpdatedAt = time.Now()
	s.books[id] = b
	return &b, nil
}

func (s *MemStore) ReturnBook(_ context.Context, id primitive.ObjectID, borrowedBy *primitive.ObjectID) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok || b.Available {
		return nil, nil
	}
	if borrowedBy != nil && (b.BorrowedBy == nil || *b.BorrowedBy != *borrowedBy) {
		return nil, nil
	}
	b.Available = true
	b.BorrowedBy = nil
	b.UpdatedAt = time.Now()
	s.books[id] = b
	return &b, nil
}

func (s *MemStore) BooksBorrowedBy(_ context.Context, userID primitive.ObjectID) ([]models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Book
	for _, b := range s.books {
		if b.BorrowedBy != nil && *b.BorrowedBy == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) CountBooks(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.books)), nil
}

func (s *MemStore) CountAvailableBooks(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.books {
		if b.Available {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GenreCounts(context.Context) ([]models.GenreCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, b := range s.books {
		counts[b.Genre]++
	}
	out := make([]models.GenreCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, models.GenreCount{Genre: g, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Genre < out[j].Genre
	})
	return out, nil
}

func (s *MemStore) SetBookCover(_ context.Context, id primitive.ObjectID, coverKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return false, nil
	}
	b.CoverKey = coverKey
	b.UpdatedAt = time.Now()
	s.books[id] = b
	return true, nil
}

// User store methods.

func (s *MemStore) UserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *MemStore) UserByName(_ context.Context, name string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *MemStore) UserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *MemStore) CreateUser(_ context.Context, user *models.User) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := primitive.NewObjectID()
	user.ID = id
	s.users[id] = *user
	return id, nil
}
