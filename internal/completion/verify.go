package completion

import (
	"fmt"

	"gorm.io/gorm"
)

// CacheIssue is one violated cache invariant found by VerifyCache.
type CacheIssue struct {
	AdminAreaID    int64  `json:"admin_area_id"`
	CoverageUnitID int64  `json:"coverage_unit_id"`
	Detail         string `json:"detail"`
}

// VerifyCache scans the intersection cache for rows that violate its
// invariants: a row referencing a missing unit, or a row whose unit belongs
// to a different country than the region's parent. Issues are reported, not
// repaired. They indicate a missed invalidation on the mutation path and
// the operator needs to see them.
func VerifyCache(dbc *gorm.DB) ([]CacheIssue, error) {
	var issues []CacheIssue

	rows, err := dbc.Raw(`
		SELECT uro.admin_area_id, uro.coverage_unit_id
		FROM completion.unit_region_overlaps uro
		LEFT JOIN completion.coverage_units cu ON cu.id = uro.coverage_unit_id
		WHERE cu.id IS NULL
	`).Rows()
	if err != nil {
		return nil, fmt.Errorf("scan orphaned cache rows: %w", err)
	}
	for rows.Next() {
		var issue CacheIssue
		if err := rows.Scan(&issue.AdminAreaID, &issue.CoverageUnitID); err != nil {
			rows.Close()
			return nil, err
		}
		issue.Detail = "cache row references a deleted unit"
		issues = append(issues, issue)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = dbc.Raw(`
		SELECT uro.admin_area_id, uro.coverage_unit_id
		FROM completion.unit_region_overlaps uro
		JOIN completion.coverage_units cu ON cu.id = uro.coverage_unit_id
		JOIN completion.admin_areas region ON region.id = uro.admin_area_id
		WHERE region.parent_admin_area_id IS DISTINCT FROM cu.admin_area_id
	`).Rows()
	if err != nil {
		return nil, fmt.Errorf("scan cross-country cache rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var issue CacheIssue
		if err := rows.Scan(&issue.AdminAreaID, &issue.CoverageUnitID); err != nil {
			return nil, err
		}
		issue.Detail = "cached unit does not belong to the region's country"
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// CheckCache wraps VerifyCache in the error taxonomy: any issue at all is a
// ConsistencyError.
func CheckCache(dbc *gorm.DB) error {
	issues, err := VerifyCache(dbc)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return &ConsistencyError{Detail: fmt.Sprintf("%d cache rows violate invariants", len(issues))}
	}
	return nil
}
