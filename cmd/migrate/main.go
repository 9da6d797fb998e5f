package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
	"imagedetect/internal/models"
	"imagedetect/internal/repository/sqlstore"
	"imagedetect/internal/services"
	"imagedetect/internal/services/ai"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	imagesDir := flag.String("images", cfg.ImageDirectory, "Directory containing images")
	dsn := flag.String("db", cfg.DatabaseDSN, "Database DSN (path for sqlite3)")
	detect := flag.Bool("detect", false, "Run detection on every newly registered image")
	flag.Parse()

	cfg.ImageDirectory = *imagesDir
	cfg.DatabaseDSN = *dsn
	// Backfills run one image at a time.
	cfg.DetectionWorkers = 1

	appLog, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	fmt.Printf("Registering images from %s in database %s\n", *imagesDir, *dsn)

	db, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	images := sqlstore.NewImageRepository(db)

	var manager *services.Manager
	if *detect {
		model, err := ai.LoadNetModel(cfg.ModelPath, cfg.ModelConfigPath, cfg.ModelInputSize)
		if err != nil {
			log.Fatalf("Failed to load detection model: %v", err)
		}
		detector := ai.NewDetectorService(model, cfg, appLog)
		defer detector.Close()
		manager = services.NewManager(detector, images, sqlstore.NewDetectionRepository(db), nil, cfg, appLog)
	}

	files, err := os.ReadDir(*imagesDir)
	if err != nil {
		log.Fatalf("Failed to read images directory: %v", err)
	}

	ctx := context.Background()
	registered, existing, skipped, detected := 0, 0, 0, 0
	for _, file := range files {
		if file.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
			continue
		}

		path := filepath.Join(*imagesDir, file.Name())
		exists, err := images.ExistsByPath(ctx, path)
		if err != nil {
			log.Fatalf("Failed to query database: %v", err)
		}
		if exists {
			existing++
			continue
		}

		info, err := file.Info()
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		img := &models.Image{
			Filename:  file.Name(),
			FilePath:  path,
			Timestamp: info.ModTime().UTC(),
		}
		if _, err := images.Insert(ctx, img); err != nil {
			log.Printf("Failed to register %s: %v", file.Name(), err)
			skipped++
			continue
		}
		registered++

		if manager != nil {
			outcome := manager.RunDetection(ctx, img)
			if outcome.Err == nil {
				detected += outcome.Count
			}
		}
	}

	fmt.Printf("Registered %d new images (%d already present)\n", registered, existing)
	if skipped > 0 {
		fmt.Printf("Skipped %d files with errors\n", skipped)
	}
	if manager != nil {
		fmt.Printf("Stored %d detections\n", detected)
	}
}
