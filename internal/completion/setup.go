package completion

import (
	"log"

	"github.com/TrailTally/TT-Backend/internal/db"
)

func Init() {
	// Ensure the completion schema exists first
	if err := db.EnsureSchema(db.DB, "completion"); err != nil {
		log.Fatal("Failed to create completion schema: ", err)
	}

	if err := db.DB.AutoMigrate(&AdminArea{}, &CoverageUnit{}, &UserTraveledUnit{}, &UnitRegionOverlap{}, &MaintenanceRun{}); err != nil {
		log.Fatal("Failed to auto-migrate tables", err)
	}
}
