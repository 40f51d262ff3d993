package completion

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkVisited appends ledger rows for the given units. Re-marking an
// already-visited unit is a no-op; referencing a unit that does not exist is
// a NotFoundError and nothing is written. Trip ingestion is the only caller.
func MarkVisited(dbc *gorm.DB, userID string, unitIDs []int64) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	unitIDs = dedupeIDs(unitIDs)
	if len(unitIDs) == 0 {
		return nil
	}

	return dbc.Transaction(func(tx *gorm.DB) error {
		var known int64
		err := tx.Raw(`
			SELECT COUNT(*) FROM completion.coverage_units WHERE id = ANY(?)
		`, pq.Array(unitIDs)).Scan(&known).Error
		if err != nil {
			return fmt.Errorf("check units: %w", err)
		}
		if int(known) != len(unitIDs) {
			return &NotFoundError{Kind: "coverage unit", Ref: fmt.Sprintf("%d of %d ids", len(unitIDs)-int(known), len(unitIDs))}
		}

		now := time.Now().UTC()
		rows := make([]UserTraveledUnit, 0, len(unitIDs))
		for _, id := range unitIDs {
			rows = append(rows, UserTraveledUnit{
				UserID:         userID,
				CoverageUnitID: id,
				FirstSeenAt:    now,
			})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}
