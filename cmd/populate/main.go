package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TrailTally/TT-Backend/internal/completion"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// One-shot cache population job. Run after every bulk import, merge backlog,
// or geometry re-import; percentages are stale until it finishes.
func main() {
	godotenv.Load(".env.local")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("DB connection error: %v", err)
	}

	// Interruptible per region: a signal cancels pending regions, finished
	// regions stay committed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		regionCode := os.Args[1]
		region, err := completion.AreaByCode(db, regionCode)
		if err != nil {
			log.Fatalf("Resolve region %s: %v", regionCode, err)
		}
		if err := completion.PopulateRegion(db.WithContext(ctx), region.ID); err != nil {
			log.Fatalf("Populate %s: %v", regionCode, err)
		}
		fmt.Printf("✓ Populated cache for region %s\n", regionCode)
		return
	}

	if err := completion.PopulateAll(ctx, db); err != nil {
		log.Fatalf("Populate all: %v", err)
	}
	fmt.Println("✓ Populated cache for all regions")
}
