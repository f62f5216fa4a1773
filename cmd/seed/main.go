package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/apollo-lhc/cmtestgo/internal/config"
	"github.com/apollo-lhc/cmtestgo/internal/database"
	"github.com/apollo-lhc/cmtestgo/internal/entry"
	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/utils"
)

func main() {
	count := flag.Int("count", 25, "number of demo entries to generate")
	user := flag.String("user", "", "also create a demo operator account with this username")
	pass := flag.String("pass", "", "password for the demo operator account")
	flag.Parse()

	fmt.Println("🌱 CM Test Demo Data Seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")

	if err := db.AutoMigrate(&models.User{}, &models.TestEntry{}, &models.DeletedEntry{}); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	registry, err := forms.Open(cfg.FormsPath)
	if err != nil {
		log.Fatalf("❌ Failed to load form configuration: %v", err)
	}

	svc := entry.NewService(db.DB)
	ids, err := svc.GenerateDummies(registry.Current(), *count)
	if err != nil {
		log.Fatalf("❌ Seeding failed after %d entries: %v", len(ids), err)
	}
	fmt.Printf("✅ Created %d demo entries\n", len(ids))

	if *user != "" && *pass != "" {
		hash, err := utils.HashPassword(*pass)
		if err != nil {
			log.Fatalf("❌ Failed to hash password: %v", err)
		}
		demo := models.User{Username: *user, Password: hash}
		if err := db.DB.Create(&demo).Error; err != nil {
			log.Fatalf("❌ Failed to create demo user: %v", err)
		}
		fmt.Printf("✅ Created demo operator account %q\n", *user)
	}

	fmt.Println("🌱 Done")
}
