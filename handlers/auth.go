package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlibro/backend/middleware"
	"github.com/openlibro/backend/models"
)

// UserStore is the slice of the store the auth endpoints need.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByName(ctx context.Context, name string) (*models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
}

type AuthHandler struct {
	Users      UserStore
	Log        *logrus.Logger
	JWTSecret  string
	TokenTTL   time.Duration
	Production bool // controls the Secure flag on the cookie
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	if existing, err := h.Users.UserByEmail(r.Context(), req.Email); err != nil {
		h.Log.WithError(err).Error("signup: lookup email")
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	} else if existing != nil {
		writeError(w, http.StatusBadRequest, "user already exists")
		return
	}
	if existing, err := h.Users.UserByName(r.Context(), req.Name); err != nil {
		h.Log.WithError(err).Error("signup: lookup name")
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	} else if existing != nil {
		writeError(w, http.StatusBadRequest, "name already taken")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Log.WithError(err).Error("signup: hash password")
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	user := &models.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hash),
		Role:     models.RoleUser,
	}
	id, err := h.Users.CreateUser(r.Context(), user)
	if err != nil {
		h.Log.WithError(err).Error("signup: create user")
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	user.ID = id
	if err := h.setTokenCookie(w, user); err != nil {
		h.Log.WithError(err).Error("signup: sign token")
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]UserSummary{"user": summarize(user)})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	user, err := h.Users.UserByEmail(r.Context(), req.Email)
	if err != nil {
		h.Log.WithError(err).Error("login: lookup user")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := h.setTokenCookie(w, user); err != nil {
		h.Log.WithError(err).Error("login: sign token")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]UserSummary{"user": summarize(user)})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Production,
		SameSite: http.SameSiteNoneMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, user *models.User) error {
	claims := &middleware.Claims{
		UserID: user.ID.Hex(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.JWTSecret))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.Production,
		SameSite: http.SameSiteNoneMode,
	})
	return nil
}

func summarize(u *models.User) UserSummary {
	return UserSummary{
		ID:    u.ID.Hex(),
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}
