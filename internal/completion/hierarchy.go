package completion

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// AdminAreaOut is the listing shape served to collaborators.
type AdminAreaOut struct {
	ISOCode       string `json:"iso_code"`
	Name          string `json:"name"`
	Level         int    `json:"level"`
	ParentISOCode string `json:"parent_iso"`
}

// ListByLevel returns every admin area of the given level ordered by parent
// code then own code, which keeps the listing stable and human-browsable.
func ListByLevel(dbc *gorm.DB, level int) ([]AdminAreaOut, error) {
	rows, err := dbc.Raw(`
		SELECT a.iso_code, a.name, a.level, COALESCE(p.iso_code, '') AS parent_iso
		FROM completion.admin_areas a
		LEFT JOIN completion.admin_areas p ON p.id = a.parent_admin_area_id
		WHERE a.level = ?
		ORDER BY COALESCE(p.iso_code, ''), a.iso_code
	`, level).Rows()
	if err != nil {
		return nil, fmt.Errorf("list admin areas: %w", err)
	}
	defer rows.Close()

	var out []AdminAreaOut
	for rows.Next() {
		var a AdminAreaOut
		if err := rows.Scan(&a.ISOCode, &a.Name, &a.Level, &a.ParentISOCode); err != nil {
			return nil, fmt.Errorf("scan admin area: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ParentCode returns the ISO code of the area's parent, or "" for a level-1
// area. A dangling parent reference is a NotFoundError.
func ParentCode(dbc *gorm.DB, area *AdminArea) (string, error) {
	if area.ParentID == nil {
		return "", nil
	}
	var parent AdminArea
	if err := dbc.First(&parent, "id = ?", *area.ParentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &NotFoundError{Kind: "admin area", Ref: fmt.Sprintf("id=%d", *area.ParentID)}
		}
		return "", err
	}
	return parent.ISOCode, nil
}

// AreaByCode resolves an admin area by ISO code at any level. Country codes
// ("FR") and region codes ("FR-IDF") are disjoint, so the code alone
// identifies the area.
func AreaByCode(dbc *gorm.DB, code string) (*AdminArea, error) {
	var area AdminArea
	err := dbc.Order("level").First(&area, "iso_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "admin area", Ref: code}
	}
	if err != nil {
		return nil, err
	}
	return &area, nil
}

// countryByCode resolves a level-1 area by code, rejecting regions.
func countryByCode(dbc *gorm.DB, code string) (*AdminArea, error) {
	area, err := AreaByCode(dbc, code)
	if err != nil {
		return nil, err
	}
	if area.Level != 1 {
		return nil, &InvalidLevelError{Code: area.ISOCode, Want: 1, Got: area.Level}
	}
	return area, nil
}

// regionByID resolves a level-2 area by id, rejecting countries. Population
// depends on this check: feeding it a country would rebuild a cache keyed by
// the wrong level.
func regionByID(dbc *gorm.DB, regionID int64) (*AdminArea, error) {
	var area AdminArea
	err := dbc.First(&area, "id = ?", regionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "admin area", Ref: fmt.Sprintf("id=%d", regionID)}
	}
	if err != nil {
		return nil, err
	}
	if area.Level != 2 {
		return nil, &InvalidLevelError{Code: area.ISOCode, Want: 2, Got: area.Level}
	}
	return &area, nil
}
