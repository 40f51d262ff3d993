package completion

import (
	"time"

	"github.com/google/uuid"
)

// AdminArea is a node of the two-level administrative hierarchy: level 1 is
// a country, level 2 a region whose parent is a level-1 area. The flat
// parent reference is the whole tree; no deeper nesting exists.
type AdminArea struct {
	ID       int64   `gorm:"primaryKey" json:"id"`
	ISOCode  string  `gorm:"column:iso_code;index:idx_admin_area_code_level;size:16" json:"iso_code"`
	Level    int     `gorm:"index:idx_admin_area_code_level" json:"level"`
	ParentID *int64  `gorm:"column:parent_admin_area_id;index" json:"parent_id,omitempty"`
	Name     string  `json:"name"`
	Geometry *string `gorm:"type:jsonb" json:"-"` // GeoJSON MultiPolygon, null pending rebuild
}

// CoverageUnit is a fine-grained travelable polygon owned by exactly one
// country. AreaM2 is always recomputed from Geometry on write; it is never
// accepted from callers, so geometry edits cannot drift from the bookkeeping.
type CoverageUnit struct {
	ID              int64   `gorm:"primaryKey" json:"id"`
	AdminAreaID     int64   `gorm:"uniqueIndex:idx_unit_source" json:"admin_area_id"`
	SourceFeatureID string  `gorm:"column:source_feature_id;uniqueIndex:idx_unit_source;size:128" json:"source_feature_id"`
	Geometry        string  `gorm:"type:jsonb" json:"-"`
	AreaM2          float64 `gorm:"column:area_m2" json:"area_m2"`
	Properties      string  `gorm:"type:jsonb;default:'{}'" json:"properties"`
}

// UserTraveledUnit is a membership fact: the user has visited the unit.
// Rows live exactly as long as the unit does; deletes cascade in the same
// transaction that removes the unit.
type UserTraveledUnit struct {
	UserID         string    `gorm:"primaryKey;size:64" json:"user_id"`
	CoverageUnitID int64     `gorm:"primaryKey" json:"coverage_unit_id"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
}

// UnitRegionOverlap is one row of the intersection cache: the overlap area
// between a level-2 region and a coverage unit of the region's country.
// Rows exist only for positive overlap. The cache is a disposable derivative
// of geometry, owned entirely by the maintenance operations and rebuildable
// at any time via population.
type UnitRegionOverlap struct {
	AdminAreaID    int64   `gorm:"primaryKey" json:"admin_area_id"`
	CoverageUnitID int64   `gorm:"primaryKey" json:"coverage_unit_id"`
	OverlapM2      float64 `gorm:"column:overlap_m2" json:"overlap_m2"`
}

// MaintenanceRun is the operator-facing audit row written by every
// maintenance entrypoint. It is never consulted by the calculator.
type MaintenanceRun struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Operation   string    `gorm:"size:32" json:"operation"`
	Target      string    `gorm:"size:64" json:"target"`
	FreedAreaM2 float64   `gorm:"column:freed_area_m2" json:"freed_area_m2"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Detail      string    `json:"detail"`
}

func (AdminArea) TableName() string {
	return "completion.admin_areas"
}

func (CoverageUnit) TableName() string {
	return "completion.coverage_units"
}

func (UserTraveledUnit) TableName() string {
	return "completion.user_traveled_units"
}

func (UnitRegionOverlap) TableName() string {
	return "completion.unit_region_overlaps"
}

func (MaintenanceRun) TableName() string {
	return "completion.maintenance_runs"
}
