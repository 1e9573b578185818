package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/openlibro/backend/models"
)

// AnalyticsKey is the fixed key for the analytics payload.
const AnalyticsKey = "books:analytics"

// ListKey derives a deterministic key from the full list parameter tuple.
// Two requests hit the same entry iff every parameter matches.
func ListKey(q models.ListQuery) string {
	return "books:list:" + fingerprint(
		q.Search,
		q.Category,
		q.Author,
		strconv.FormatInt(q.Page, 10),
		strconv.FormatInt(q.Limit, 10),
		q.SortBy,
		q.Order,
	)
}

// FilterKey derives the key for a page-range/availability filter read.
func FilterKey(q models.FilterQuery) string {
	return "books:filter:" + fingerprint(
		optInt(q.MinPages),
		optInt(q.MaxPages),
		optBool(q.Available),
	)
}

func fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
