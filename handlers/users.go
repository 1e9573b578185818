package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/openlibro/backend/middleware"
	"github.com/openlibro/backend/service"
)

type UsersHandler struct {
	Users   UserStore
	Catalog *service.Catalog
	Log     *logrus.Logger
}

// Me returns the caller's own profile; the password hash never leaves the
// model thanks to its json tag.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.Users.UserByID(r.Context(), p.UserID)
	if err != nil {
		h.Log.WithError(err).Error("lookup user")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Dashboard lists the books currently borrowed by the caller.
func (h *UsersHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	books, err := h.Catalog.BorrowedBy(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}
