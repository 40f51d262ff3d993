package completion

import (
	"context"
	"fmt"

	"github.com/TrailTally/TT-Backend/internal/geometry"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// populateParallelism bounds concurrent region rebuilds in PopulateAll.
// Regions are cache-disjoint so any interleaving is safe; the bound just
// keeps GEOS memory and connection usage predictable.
const populateParallelism = 4

// PopulateRegion rebuilds the intersection cache for one region inside a
// single transaction, so readers observe either the old cache or the new
// one, never a partial rebuild.
func PopulateRegion(dbc *gorm.DB, regionID int64) error {
	return dbc.Transaction(func(tx *gorm.DB) error {
		return populateRegionTx(tx, regionID)
	})
}

// populateRegionTx is the unit of cache consistency: delete every cache row
// for the region, then insert one row per owning-country unit with positive
// overlap. Always a full rebuild, never an incremental patch.
func populateRegionTx(tx *gorm.DB, regionID int64) error {
	region, err := regionByID(tx, regionID)
	if err != nil {
		return err
	}
	if region.ParentID == nil {
		return &ConsistencyError{Detail: fmt.Sprintf("region %q has no parent country", region.ISOCode)}
	}
	if err := lockRegion(tx, regionID); err != nil {
		return err
	}

	if err := tx.Exec(`DELETE FROM completion.unit_region_overlaps WHERE admin_area_id = ?`, regionID).Error; err != nil {
		return fmt.Errorf("clear region cache: %w", err)
	}

	// A region awaiting its boundary import has nothing to intersect; its
	// cache stays empty and the region reports 0% until the next rebuild.
	if region.Geometry == nil {
		return nil
	}
	regionGeom, err := geometry.Decode(*region.Geometry)
	if err != nil {
		return &ConsistencyError{Detail: fmt.Sprintf("region %q geometry: %v", region.ISOCode, err)}
	}

	var units []CoverageUnit
	if err := tx.Where("admin_area_id = ?", *region.ParentID).Order("id").Find(&units).Error; err != nil {
		return fmt.Errorf("load country units: %w", err)
	}

	entries := make([]UnitRegionOverlap, 0, len(units))
	for _, unit := range units {
		unitGeom, err := geometry.Decode(unit.Geometry)
		if err != nil {
			// Unit geometries are validated on insert; a decode failure here
			// means the catalogue was mutated outside the maintenance path.
			return &ConsistencyError{Detail: fmt.Sprintf("unit %d geometry: %v", unit.ID, err)}
		}
		if !regionGeom.Intersects(unitGeom) {
			continue
		}
		overlap, err := geometry.IntersectionAreaM2(*region.Geometry, unit.Geometry)
		if err != nil {
			return &ConsistencyError{Detail: fmt.Sprintf("unit %d intersection: %v", unit.ID, err)}
		}
		if overlap <= 0 {
			continue
		}
		entries = append(entries, UnitRegionOverlap{
			AdminAreaID:    regionID,
			CoverageUnitID: unit.ID,
			OverlapM2:      overlap,
		})
	}

	if len(entries) == 0 {
		return nil
	}
	return tx.CreateInBatches(entries, 500).Error
}

// PopulateAll rebuilds the cache for every level-2 region, one transaction
// per region with bounded parallelism. Regions are independent, so a
// cancelled run leaves every finished region fully populated and every
// unfinished region untouched.
func PopulateAll(ctx context.Context, dbc *gorm.DB) error {
	var regionIDs []int64
	err := dbc.Raw(`SELECT id FROM completion.admin_areas WHERE level = 2 ORDER BY id`).Scan(&regionIDs).Error
	if err != nil {
		return fmt.Errorf("list regions: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(populateParallelism)
	for _, regionID := range regionIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := PopulateRegion(dbc.WithContext(ctx), regionID); err != nil {
				return fmt.Errorf("region %d: %w", regionID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// populateCountryRegions rebuilds the cache for every region of one country
// inside an existing transaction. Merge and delete use it so their cache
// invalidation commits atomically with the catalogue change.
func populateCountryRegions(tx *gorm.DB, countryID int64) error {
	var regionIDs []int64
	err := tx.Raw(`
		SELECT id FROM completion.admin_areas
		WHERE level = 2 AND parent_admin_area_id = ?
		ORDER BY id
	`, countryID).Scan(&regionIDs).Error
	if err != nil {
		return fmt.Errorf("list country regions: %w", err)
	}
	for _, regionID := range regionIDs {
		if err := populateRegionTx(tx, regionID); err != nil {
			return err
		}
	}
	return nil
}
