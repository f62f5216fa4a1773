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

	"github.com/apollo-lhc/cmtestgo/internal/config"
	"github.com/apollo-lhc/cmtestgo/internal/database"
	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/handlers"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/uploads"
	"github.com/apollo-lhc/cmtestgo/internal/utils"
	"github.com/apollo-lhc/cmtestgo/internal/websocket"
	"gorm.io/gorm"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.User{},
		&models.TestEntry{},
		&models.DeletedEntry{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Load the form configuration (written with defaults on first run)
	registry, err := forms.Open(cfg.FormsPath)
	if err != nil {
		log.Fatalf("Failed to load form configuration: %v", err)
	}
	log.Printf("📝 Form configuration loaded: %d pages", registry.Current().PageCount())

	// 5. Upload storage
	store, err := uploads.New(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to prepare upload directory: %v", err)
	}

	// 6. Live dashboard hub
	hub := websocket.NewHub()
	go hub.Run()

	// 7. Seed the bootstrap admin account if configured
	if err := seedAdmin(db.DB, cfg); err != nil {
		log.Printf("⚠️ Admin seed failed: %v", err)
	}

	// 8. Set up HTTP router
	router := handlers.NewRouter(db, cfg, registry, store, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 CM test server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

// seedAdmin ensures the configured bootstrap admin account exists.
func seedAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminPass == "" {
		log.Println("ℹ️ ADMIN_PASSWORD not set, skipping admin seed")
		return nil
	}

	var existing models.User
	err := db.Where("username = ?", cfg.AdminUser).First(&existing).Error
	if err == nil {
		if !existing.IsAdmin {
			return db.Model(&existing).Update("is_admin", true).Error
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := utils.HashPassword(cfg.AdminPass)
	if err != nil {
		return err
	}
	admin := models.User{Username: cfg.AdminUser, Password: hash, IsAdmin: true}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Printf("👑 Bootstrap admin account created: %s", cfg.AdminUser)
	return nil
}
