package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"eventattend/internal/api"
	"eventattend/internal/attendance"
	"eventattend/internal/auth"
	"eventattend/internal/cloudinary"
	"eventattend/internal/config"
	"eventattend/internal/faceclient"
	"eventattend/internal/faces"
	"eventattend/internal/queue"
	"eventattend/internal/review"
	"eventattend/internal/seed"
	"eventattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()
	health := map[string]api.HealthCheck{}

	st, closeStore, err := openStore(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Seed {
		data, err := seed.Load(time.Now())
		if err != nil {
			return err
		}
		seeded, err := attendance.Seed(ctx, st, data)
		if err != nil {
			return err
		}
		if seeded {
			log.Printf("seeded %d events and %d faces", len(data.Events), len(data.Faces))
		}
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		face.SkipMatch = cfg.FaceSkipMatch
		log.Printf("face service skipped; every search matches face %q", cfg.FaceSkipMatch)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No separate worker process, so gallery jobs are applied in-process.
		q = queue.NewInMemory(64)
		go func() {
			if err := faces.NewWorker(face, time.Minute).Run(workerCtx, q); err != nil {
				log.Printf("in-process worker: %v", err)
			}
		}()
		log.Println("queue backend: memory")
	} else {
		redisClient, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		health["redis"] = redisClient.Healthy
	}

	// Left as a nil interface when not configured.
	var images attendance.ImageUploader
	if cdn := newCloudinary(cfg); cdn != nil {
		images = cdn
	}

	svc := attendance.NewService(st, face, images, attendance.Options{
		DedupWindow:    cfg.DedupWindow,
		MinQuality:     cfg.MinFaceQuality,
		MatchThreshold: cfg.MatchThreshold,
	})

	admin, err := auth.NewAdmin(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return err
	}
	if cfg.AdminPassword == "" && cfg.AdminPasswordHash == "" {
		log.Println("WARNING: ADMIN_PASSWORD / ADMIN_PASSWORD_HASH not set, admin login disabled")
	}

	r := api.NewRouter(api.Deps{
		Attendance: svc,
		Review:     review.New(st, svc),
		Faces:      faces.NewRegistry(st, images, q),
		Issuer: auth.Issuer{
			Name:       cfg.JWTIssuer,
			Key:        cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Admin:           admin,
		RateLimitPerMin: cfg.RateLimitPerMin,
		HSTS:            cfg.Production(),
		Health:          health,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// openStore picks the storage backend and registers its health check.
func openStore(ctx context.Context, cfg config.App, health map[string]api.HealthCheck) (attendance.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Println("store backend: memory (data is lost on restart)")
		return attendance.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	health["db"] = db.Healthy
	log.Printf("store backend: %s", db.Driver)
	return attendance.NewSQLStore(db.Client, db.Driver), func() { _ = db.Close() }, nil
}

// newCloudinary returns nil when image storage is not configured.
func newCloudinary(cfg config.App) *cloudinary.Client {
	if !cfg.CloudinaryConfigured() {
		log.Println("WARNING: Cloudinary not configured, photos are not stored")
		return nil
	}
	if cfg.CloudinaryURL != "" {
		cdn, err := cloudinary.NewFromURL(cfg.CloudinaryURL, cfg.CloudinaryFolder)
		if err != nil {
			log.Printf("WARNING: cloudinary disabled: %v", err)
			return nil
		}
		log.Println("Cloudinary configured:", cdn.CloudName)
		return cdn
	}
	log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	return cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
}
