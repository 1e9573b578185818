package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openlibro/backend/models"
)

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now
	res, err := db.Books().InsertOne(ctx, book)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOne(ctx, bson.M{"_id": id}).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (db *DB) BookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOne(ctx, bson.M{"isbn": isbn}).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks runs the filtered/sorted/paginated catalog query and returns the
// page plus the total match count for pagination math.
func (db *DB) ListBooks(ctx context.Context, q models.ListQuery) ([]models.Book, int64, error) {
	filter := bson.M{}
	if q.Search != "" {
		filter["title"] = bson.M{"$regex": q.Search, "$options": "i"}
	}
	if q.Category != "" {
		filter["genre"] = q.Category
	}
	if q.Author != "" {
		filter["author"] = q.Author
	}

	opts := options.Find().SetSkip((q.Page - 1) * q.Limit).SetLimit(q.Limit)
	if q.SortBy != "" {
		dir := 1
		if q.Order == "desc" {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	} else {
		opts.SetSort(bson.D{{Key: "createdAt", Value: -1}})
	}

	cur, err := db.Books().Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var books []models.Book
	if err := cur.All(ctx, &books); err != nil {
		return nil, 0, err
	}
	total, err := db.Books().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (db *DB) FilterBooks(ctx context.Context, q models.FilterQuery) ([]models.Book, error) {
	filter := bson.M{}
	if q.MinPages != nil || q.MaxPages != nil {
		pages := bson.M{}
		if q.MinPages != nil {
			pages["$gte"] = *q.MinPages
		}
		if q.MaxPages != nil {
			pages["$lte"] = *q.MaxPages
		}
		filter["pages"] = pages
	}
	if q.Available != nil {
		filter["available"] = *q.Available
	}
	cur, err := db.Books().Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var books []models.Book
	if err := cur.All(ctx, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateBook applies the non-nil fields and returns the updated document, or
// nil when no book has that id.
func (db *DB) UpdateBook(ctx context.Context, id primitive.ObjectID, upd models.BookUpdate) (*models.Book, error) {
	set := bson.M{"updatedAt": time.Now()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Author != nil {
		set["author"] = *upd.Author
	}
	if upd.PublishedDate != nil {
		set["publishedDate"] = *upd.PublishedDate
	}
	if upd.ISBN != nil {
		set["isbn"] = *upd.ISBN
	}
	if upd.Pages != nil {
		set["pages"] = *upd.Pages
	}
	if upd.Genre != nil {
		set["genre"] = *upd.Genre
	}
	var book models.Book
	err := db.Books().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// DeleteBook removes a book and returns the deleted document, or nil when no
// book has that id.
func (db *DB) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// BorrowBook is the atomic borrow transition. The availability check and the
// flip happen in one FindOneAndUpdate, so of two concurrent borrows exactly
// one matches the filter. Returns nil when no available book matched; the
// caller distinguishes missing from already borrowed.
func (db *DB) BorrowBook(ctx context.Context, id, userID primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "available": true},
		bson.M{"$set": bson.M{
			"available":  false,
			"borrowedBy": userID,
			"updatedAt":  time.Now(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ReturnBook is the atomic return transition. A non-nil borrowedBy restricts
// the match to that borrower; admins pass nil and may return any borrowed
// book. Returns nil when no matching borrowed book exists.
func (db *DB) ReturnBook(ctx context.Context, id primitive.ObjectID, borrowedBy *primitive.ObjectID) (*models.Book, error) {
	filter := bson.M{"_id": id, "available": false}
	if borrowedBy != nil {
		filter["borrowedBy"] = *borrowedBy
	}
	var book models.Book
	err := db.Books().FindOneAndUpdate(ctx,
		filter,
		bson.M{
			"$set":   bson.M{"available": true, "updatedAt": time.Now()},
			"$unset": bson.M{"borrowedBy": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (db *DB) BooksBorrowedBy(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error) {
	cur, err := db.Books().Find(ctx, bson.M{"borrowedBy": userID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var books []models.Book
	if err := cur.All(ctx, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (db *DB) CountBooks(ctx context.Context) (int64, error) {
	return db.Books().CountDocuments(ctx, bson.M{})
}

func (db *DB) CountAvailableBooks(ctx context.Context) (int64, error) {
	return db.Books().CountDocuments(ctx, bson.M{"available": true})
}

// GenreCounts groups the catalog by genre, most common first.
func (db *DB) GenreCounts(ctx context.Context) ([]models.GenreCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$genre"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	}
	cur, err := db.Books().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var genres []models.GenreCount
	if err := cur.All(ctx, &genres); err != nil {
		return nil, err
	}
	return genres, nil
}

// SetBookCover stores the S3 key of the uploaded cover. Reports whether a
// book matched.
func (db *DB) SetBookCover(ctx context.Context, id primitive.ObjectID, coverKey string) (bool, error) {
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"coverKey": coverKey, "updatedAt": time.Now()}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}
