package completion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/TrailTally/TT-Backend/internal/geometry"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// advisory lock keyspaces for pg_advisory_xact_lock(int, int). Maintenance
// operations touching the same country or region serialize on these.
const (
	lockClassCountry = 1
	lockClassRegion  = 2
)

func lockCountry(tx *gorm.DB, countryID int64) error {
	return tx.Exec(`SELECT pg_advisory_xact_lock(?, ?)`, lockClassCountry, countryID).Error
}

func lockRegion(tx *gorm.DB, regionID int64) error {
	return tx.Exec(`SELECT pg_advisory_xact_lock(?, ?)`, lockClassRegion, regionID).Error
}

// InsertUnit validates and stores a new coverage unit under the given
// country. The unit's area is derived from its geometry here and on every
// later geometry write; callers never supply it.
func InsertUnit(tx *gorm.DB, countryID int64, sourceID, geomJSON, properties string) (*CoverageUnit, error) {
	var country AdminArea
	if err := tx.First(&country, "id = ?", countryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: "admin area", Ref: fmt.Sprintf("id=%d", countryID)}
		}
		return nil, err
	}
	if country.Level != 1 {
		return nil, &InvalidLevelError{Code: country.ISOCode, Want: 1, Got: country.Level}
	}

	if _, err := geometry.Decode(geomJSON); err != nil {
		return nil, &InvalidGeometryError{Reason: err.Error()}
	}
	area, err := geometry.AreaM2(geomJSON)
	if err != nil {
		return nil, &InvalidGeometryError{Reason: err.Error()}
	}

	if properties == "" {
		properties = "{}"
	}
	unit := &CoverageUnit{
		AdminAreaID:     countryID,
		SourceFeatureID: sourceID,
		Geometry:        geomJSON,
		AreaM2:          area,
		Properties:      properties,
	}
	if err := tx.Create(unit).Error; err != nil {
		return nil, fmt.Errorf("insert coverage unit: %w", err)
	}
	return unit, nil
}

// DeleteUnits removes the listed units together with their ledger rows and
// cache rows, returning the freed area in m² for the audit trail. Unknown
// ids are no-ops and an empty set returns 0 without touching the database.
func DeleteUnits(tx *gorm.DB, unitIDs []int64) (float64, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	ids := pq.Array(unitIDs)

	var freed float64
	err := tx.Raw(`
		SELECT COALESCE(SUM(area_m2), 0)
		FROM completion.coverage_units
		WHERE id = ANY(?)
	`, ids).Scan(&freed).Error
	if err != nil {
		return 0, fmt.Errorf("sum freed area: %w", err)
	}

	// Ledger and cache rows exist only while their unit does.
	if err := tx.Exec(`DELETE FROM completion.unit_region_overlaps WHERE coverage_unit_id = ANY(?)`, ids).Error; err != nil {
		return 0, fmt.Errorf("delete cache rows: %w", err)
	}
	if err := tx.Exec(`DELETE FROM completion.user_traveled_units WHERE coverage_unit_id = ANY(?)`, ids).Error; err != nil {
		return 0, fmt.Errorf("delete ledger rows: %w", err)
	}
	if err := tx.Exec(`DELETE FROM completion.coverage_units WHERE id = ANY(?)`, ids).Error; err != nil {
		return 0, fmt.Errorf("delete units: %w", err)
	}
	return freed, nil
}

// MergeUnits replaces the listed units with one unit covering their
// geometric union, so overlap between inputs is never double-counted. The
// merged unit is owned by the country with the smallest admin-area id among
// the inputs; for a single-country merge that is simply the shared owner,
// for a cross-country set the assignment is arbitrary but deterministic.
// The inputs are deleted, the union inserted, and every region of the
// resulting country repopulated inside the caller's transaction.
func MergeUnits(tx *gorm.DB, unitIDs []int64) (*CoverageUnit, error) {
	unitIDs = dedupeIDs(unitIDs)
	if len(unitIDs) < 2 {
		return nil, fmt.Errorf("merge requires at least two distinct units, got %d", len(unitIDs))
	}

	var units []CoverageUnit
	if err := tx.Where("id = ANY(?)", pq.Array(unitIDs)).Order("id").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("load merge units: %w", err)
	}
	if len(units) != len(unitIDs) {
		missing := missingIDs(unitIDs, units)
		return nil, &NotFoundError{Kind: "coverage unit", Ref: fmt.Sprint(missing)}
	}

	countryID := units[0].AdminAreaID
	geoms := make([]string, 0, len(units))
	for _, u := range units {
		if u.AdminAreaID < countryID {
			countryID = u.AdminAreaID
		}
		geoms = append(geoms, u.Geometry)
	}

	if err := lockCountry(tx, countryID); err != nil {
		return nil, err
	}

	mergedGeom, err := geometry.Union(geoms)
	if err != nil {
		return nil, &InvalidGeometryError{Reason: err.Error()}
	}

	if _, err := DeleteUnits(tx, unitIDs); err != nil {
		return nil, err
	}
	merged, err := InsertUnit(tx, countryID, "merged:"+uuid.NewString(), mergedGeom, "{}")
	if err != nil {
		return nil, err
	}

	// The inputs' cache rows are gone; every region of the owning country
	// must see the merged geometry before the transaction commits.
	if err := populateCountryRegions(tx, countryID); err != nil {
		return nil, err
	}
	return merged, nil
}

// RebuildCountryGeometry recomputes the country's own boundary as the union
// of its coverage units. A country with no units gets a NULL geometry.
// Level-2 geometries are externally authoritative and never touched here.
func RebuildCountryGeometry(tx *gorm.DB, countryID int64) error {
	var country AdminArea
	if err := tx.First(&country, "id = ?", countryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Kind: "admin area", Ref: fmt.Sprintf("id=%d", countryID)}
		}
		return err
	}
	if country.Level != 1 {
		return &InvalidLevelError{Code: country.ISOCode, Want: 1, Got: country.Level}
	}
	if err := lockCountry(tx, countryID); err != nil {
		return err
	}

	var geoms []string
	err := tx.Raw(`
		SELECT geometry FROM completion.coverage_units
		WHERE admin_area_id = ? ORDER BY id
	`, countryID).Scan(&geoms).Error
	if err != nil {
		return fmt.Errorf("load unit geometries: %w", err)
	}

	if len(geoms) == 0 {
		return tx.Model(&AdminArea{}).Where("id = ?", countryID).
			Update("geometry", nil).Error
	}
	union, err := geometry.Union(geoms)
	if err != nil {
		return &InvalidGeometryError{Reason: err.Error()}
	}
	return tx.Model(&AdminArea{}).Where("id = ?", countryID).
		Update("geometry", union).Error
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missingIDs(wanted []int64, found []CoverageUnit) []int64 {
	have := make(map[int64]struct{}, len(found))
	for _, u := range found {
		have[u.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range wanted {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
