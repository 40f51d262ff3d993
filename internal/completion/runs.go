package completion

import (
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordRun appends a maintenance audit row. Failures to record are logged
// and swallowed: the audit trail must never fail a maintenance operation
// that already committed.
func RecordRun(dbc *gorm.DB, operation, target string, freedAreaM2 float64, startedAt time.Time, runErr error) {
	detail := "ok"
	if runErr != nil {
		detail = runErr.Error()
	}
	run := MaintenanceRun{
		ID:          uuid.New(),
		Operation:   operation,
		Target:      target,
		FreedAreaM2: freedAreaM2,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Detail:      detail,
	}
	if err := dbc.Create(&run).Error; err != nil {
		log.Printf("failed to record maintenance run %s/%s: %v", operation, target, err)
	}
}

// RecentRuns returns the latest maintenance audit rows, newest first.
func RecentRuns(dbc *gorm.DB, limit int) ([]MaintenanceRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var runs []MaintenanceRun
	err := dbc.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
