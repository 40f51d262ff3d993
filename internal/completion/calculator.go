package completion

import (
	"fmt"
	"math"

	"gorm.io/gorm"
)

// Percent converts traveled and total areas into the user-facing integer
// percentage: 0 for an empty total, otherwise traveled/total rounded up and
// clamped to [0,100]. Rounding up means any nonzero coverage
// reports at least 1% instead of disappearing into 0.
func Percent(traveledM2, totalM2 float64) int {
	if totalM2 <= 0 {
		return 0
	}
	if traveledM2 <= 0 {
		return 0
	}
	p := int(math.Ceil(traveledM2 / totalM2 * 100))
	if p > 100 {
		p = 100
	}
	return p
}

// TotalAreaM2 returns the coverable area of an admin area: for a country the
// sum of its units' derived areas, for a region the sum of its cache rows.
// A region with no cache rows totals 0 rather than failing.
func TotalAreaM2(dbc *gorm.DB, area *AdminArea) (float64, error) {
	var total float64
	var err error
	switch area.Level {
	case 1:
		err = dbc.Raw(`
			SELECT COALESCE(SUM(area_m2), 0)
			FROM completion.coverage_units
			WHERE admin_area_id = ?
		`, area.ID).Scan(&total).Error
	case 2:
		err = dbc.Raw(`
			SELECT COALESCE(SUM(overlap_m2), 0)
			FROM completion.unit_region_overlaps
			WHERE admin_area_id = ?
		`, area.ID).Scan(&total).Error
	default:
		return 0, &InvalidLevelError{Code: area.ISOCode, Want: 1, Got: area.Level}
	}
	if err != nil {
		return 0, fmt.Errorf("total area: %w", err)
	}
	return total, nil
}

// TraveledAreaM2 returns the same aggregate as TotalAreaM2 restricted to
// units the user has visited.
func TraveledAreaM2(dbc *gorm.DB, userID string, area *AdminArea) (float64, error) {
	var traveled float64
	var err error
	switch area.Level {
	case 1:
		err = dbc.Raw(`
			SELECT COALESCE(SUM(cu.area_m2), 0)
			FROM completion.coverage_units cu
			JOIN completion.user_traveled_units utu
			  ON utu.coverage_unit_id = cu.id AND utu.user_id = ?
			WHERE cu.admin_area_id = ?
		`, userID, area.ID).Scan(&traveled).Error
	case 2:
		err = dbc.Raw(`
			SELECT COALESCE(SUM(uro.overlap_m2), 0)
			FROM completion.unit_region_overlaps uro
			JOIN completion.user_traveled_units utu
			  ON utu.coverage_unit_id = uro.coverage_unit_id AND utu.user_id = ?
			WHERE uro.admin_area_id = ?
		`, userID, area.ID).Scan(&traveled).Error
	default:
		return 0, &InvalidLevelError{Code: area.ISOCode, Want: 1, Got: area.Level}
	}
	if err != nil {
		return 0, fmt.Errorf("traveled area: %w", err)
	}
	return traveled, nil
}

// CompletionPercent answers the percent query for one user and one area
// code. Reads are pure snapshot queries; a concurrently running maintenance
// transaction is either fully visible or not at all.
func CompletionPercent(dbc *gorm.DB, userID, areaCode string) (int, error) {
	area, err := AreaByCode(dbc, areaCode)
	if err != nil {
		return 0, err
	}
	total, err := TotalAreaM2(dbc, area)
	if err != nil {
		return 0, err
	}
	traveled, err := TraveledAreaM2(dbc, userID, area)
	if err != nil {
		return 0, err
	}
	return Percent(traveled, total), nil
}
