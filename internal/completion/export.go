package completion

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// ExportFeature is one coverage unit in the map-rendering snapshot.
type ExportFeature struct {
	ID         int64           `json:"id"`
	AreaM2     float64         `json:"areaM2"`
	Properties json.RawMessage `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// CoverageExport is the per-country snapshot consumed by the map UI.
type CoverageExport struct {
	TotalAreaM2 float64         `json:"totalAreaM2"`
	Features    []ExportFeature `json:"features"`
}

// ExportCoverageGeoJSON snapshots a country's coverage units for rendering.
// A country with no units is a NotFoundError, matching the editor UI's
// expectation that an unimported country 404s rather than rendering empty.
func ExportCoverageGeoJSON(dbc *gorm.DB, countryCode string) (*CoverageExport, error) {
	country, err := countryByCode(dbc, countryCode)
	if err != nil {
		return nil, err
	}

	var units []CoverageUnit
	if err := dbc.Where("admin_area_id = ?", country.ID).Order("id").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	if len(units) == 0 {
		return nil, &NotFoundError{Kind: "coverage", Ref: countryCode}
	}

	export := &CoverageExport{Features: make([]ExportFeature, 0, len(units))}
	for _, u := range units {
		props := u.Properties
		if props == "" {
			props = "{}"
		}
		export.TotalAreaM2 += u.AreaM2
		export.Features = append(export.Features, ExportFeature{
			ID:         u.ID,
			AreaM2:     u.AreaM2,
			Properties: json.RawMessage(props),
			Geometry:   json.RawMessage(u.Geometry),
		})
	}
	return export, nil
}
