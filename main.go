package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlibro/backend/cache"
	"github.com/openlibro/backend/config"
	"github.com/openlibro/backend/handlers"
	"github.com/openlibro/backend/loggers"
	"github.com/openlibro/backend/middleware"
	"github.com/openlibro/backend/models"
	"github.com/openlibro/backend/service"
	"github.com/openlibro/backend/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := loggers.New(cfg.LogLevel, cfg.Production())

	ctx := context.Background()
	db, err := store.NewMongoDB(ctx, cfg.MongoURI, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("mongodb")
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("mongodb disconnect")
		}
	}()
	log.Info("connected to MongoDB")

	var bookCache cache.Cache
	redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Warn("redis unavailable; running without cache")
		bookCache = cache.Noop{}
	} else {
		defer redisCache.Close()
		bookCache = redisCache
		log.Info("connected to Redis")
	}

	var covers *service.CoverStore
	if cfg.S3Bucket != "" {
		covers, err = service.NewCoverStore(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey)
		if err != nil {
			log.WithError(err).Fatal("s3")
		}
	} else {
		log.Warn("AWS_S3_BUCKET not set; cover uploads disabled")
	}

	if err := setupAdmin(ctx, db, cfg, log); err != nil {
		log.WithError(err).Fatal("admin bootstrap")
	}

	catalog := service.NewCatalog(db, bookCache, log, cfg.ListCacheTTL, cfg.AnalyticsCacheTTL)

	authHandler := &handlers.AuthHandler{
		Users:      db,
		Log:        log,
		JWTSecret:  cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL,
		Production: cfg.Production(),
	}
	booksHandler := &handlers.BooksHandler{Catalog: catalog, Covers: covers, Log: log}
	usersHandler := &handlers.UsersHandler{Users: db, Catalog: catalog, Log: log}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.ClientURL))
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(httprate.LimitByIP(200, 15*time.Minute))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Library Management System API is running"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(10, 5*time.Minute))
			r.Post("/auth/signup", authHandler.Signup)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
		})

		r.Get("/books/{id}/cover", booksHandler.Cover)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))

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
				r.Post("/books/{id}/cover", booksHandler.UploadCover)
			})
		})
	})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

// setupAdmin provisions the first admin account when none exists.
func setupAdmin(ctx context.Context, db *store.DB, cfg *config.Config, log *logrus.Logger) error {
	exists, err := db.AdminExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if cfg.AdminPassword == "" {
		log.Warn("no admin account and ADMIN_PASSWORD not set; skipping admin bootstrap")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = db.CreateUser(ctx, &models.User{
		Name:     cfg.AdminName,
		Email:    cfg.AdminEmail,
		Password: string(hash),
		Role:     models.RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.WithField("email", cfg.AdminEmail).Info("admin account created")
	return nil
}
