package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Book is a catalog entry. Available and BorrowedBy move together:
// available == true iff borrowedBy is unset.
type Book struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Title         string              `bson:"title" json:"title"`
	Author        string              `bson:"author" json:"author"`
	PublishedDate time.Time           `bson:"publishedDate" json:"publishedDate"`
	ISBN          string              `bson:"isbn" json:"isbn"`
	Pages         int                 `bson:"pages" json:"pages"`
	Genre         string              `bson:"genre" json:"genre"`
	Available     bool                `bson:"available" json:"available"`
	BorrowedBy    *primitive.ObjectID `bson:"borrowedBy,omitempty" json:"borrowedBy,omitempty"`
	CoverKey      string              `bson:"coverKey,omitempty" json:"-"` // object key in S3
	CreatedAt     time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// ListQuery is the full parameter tuple of a catalog list read. It is also the
// input of the cache fingerprint, so every field that changes the result set
// must live here.
type ListQuery struct {
	Search   string
	Category string
	Author   string
	Page     int64
	Limit    int64
	SortBy   string
	Order    string
}

// FilterQuery narrows the catalog by page count range and availability.
type FilterQuery struct {
	MinPages  *int
	MaxPages  *int
	Available *bool
}

// BookUpdate carries the mutable fields of a book; nil means leave as is.
type BookUpdate struct {
	Title         *string
	Author        *string
	PublishedDate *time.Time
	ISBN          *string
	Pages         *int
	Genre         *string
}

// GenreCount is one bucket of the genre aggregation.
type GenreCount struct {
	Genre string `bson:"_id" json:"genre"`
	Count int64  `bson:"count" json:"count"`
}
