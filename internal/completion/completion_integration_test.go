package completion_test

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/TrailTally/TT-Backend/internal/completion"
	"github.com/TrailTally/TT-Backend/internal/db"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// dbAvailable tracks whether the database connection was established.
var dbAvailable bool

func TestMain(m *testing.M) {
	// Load .env.local relative to the repo root (two directories up from internal/completion/).
	_ = godotenv.Load("../../.env.local")

	if os.Getenv("DATABASE_URL") == "" {
		// No database available, skip all integration tests gracefully.
		os.Exit(m.Run())
	}

	db.Connect()
	dbAvailable = true

	// Set up completion tables (idempotent).
	completion.Init()

	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if !dbAvailable {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
}

// square returns a GeoJSON Polygon covering [lonMin,lonMax]x[latMin,latMax].
func square(lonMin, latMin, lonMax, latMax float64) string {
	return fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%[1]f,%[2]f],[%[3]f,%[2]f],[%[3]f,%[4]f],[%[1]f,%[4]f],[%[1]f,%[2]f]]]}`,
		lonMin, latMin, lonMax, latMax,
	)
}

func closeTo(got, want, relTol float64) bool {
	if want == 0 {
		return got == 0
	}
	return math.Abs(got-want)/math.Abs(want) <= relTol
}

// newCode makes a unique fake ISO-style code so tests never collide.
func newCode(prefix string) string {
	return prefix + strings.ToUpper(uuid.NewString()[:6])
}

func cleanupCountry(t *testing.T, countryID int64) {
	t.Helper()
	t.Cleanup(func() {
		db.DB.Exec(`DELETE FROM completion.unit_region_overlaps
			WHERE coverage_unit_id IN (SELECT id FROM completion.coverage_units WHERE admin_area_id = ?)
			   OR admin_area_id IN (SELECT id FROM completion.admin_areas WHERE parent_admin_area_id = ?)`,
			countryID, countryID)
		db.DB.Exec(`DELETE FROM completion.user_traveled_units
			WHERE coverage_unit_id IN (SELECT id FROM completion.coverage_units WHERE admin_area_id = ?)`,
			countryID)
		db.DB.Exec(`DELETE FROM completion.coverage_units WHERE admin_area_id = ?`, countryID)
		db.DB.Exec(`DELETE FROM completion.admin_areas WHERE parent_admin_area_id = ? OR id = ?`, countryID, countryID)
	})
}

func createCountry(t *testing.T, code string) *completion.AdminArea {
	t.Helper()
	area := &completion.AdminArea{ISOCode: code, Level: 1, Name: code}
	if err := db.DB.Create(area).Error; err != nil {
		t.Fatalf("create country: %v", err)
	}
	cleanupCountry(t, area.ID)
	return area
}

func createRegion(t *testing.T, country *completion.AdminArea, code, geomJSON string) *completion.AdminArea {
	t.Helper()
	area := &completion.AdminArea{ISOCode: code, Level: 2, ParentID: &country.ID, Name: code}
	if geomJSON != "" {
		area.Geometry = &geomJSON
	}
	if err := db.DB.Create(area).Error; err != nil {
		t.Fatalf("create region: %v", err)
	}
	return area
}

func insertUnit(t *testing.T, countryID int64, sourceID, geomJSON string) *completion.CoverageUnit {
	t.Helper()
	unit, err := completion.InsertUnit(db.DB, countryID, sourceID, geomJSON, "{}")
	if err != nil {
		t.Fatalf("insert unit %s: %v", sourceID, err)
	}
	return unit
}

func mergeInTx(t *testing.T, ids []int64) (*completion.CoverageUnit, error) {
	t.Helper()
	var merged *completion.CoverageUnit
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		merged, err = completion.MergeUnits(tx, ids)
		return err
	})
	return merged, err
}

// TestCompletionPercent_QuarterCoverage: four equal units along one latitude
// band, one visited, percent is exactly 25.
func TestCompletionPercent_QuarterCoverage(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("Q"))

	var units []*completion.CoverageUnit
	for i := 0; i < 4; i++ {
		lon := float64(i)
		units = append(units, insertUnit(t, country.ID, fmt.Sprintf("q:%d", i), square(lon, 0, lon+1, 1)))
	}

	user := "user-" + uuid.NewString()
	if err := completion.MarkVisited(db.DB, user, []int64{units[0].ID}); err != nil {
		t.Fatalf("mark visited: %v", err)
	}

	percent, err := completion.CompletionPercent(db.DB, user, country.ISOCode)
	if err != nil {
		t.Fatalf("completion percent: %v", err)
	}
	if percent != 25 {
		t.Errorf("percent = %d, want 25", percent)
	}
}

// TestCompletionPercent_RoundsUp: a sliver of coverage still reports 1%.
func TestCompletionPercent_RoundsUp(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("R"))

	tiny := insertUnit(t, country.ID, "tiny", square(0, 0, 0.001, 1))
	insertUnit(t, country.ID, "huge", square(1, 0, 2, 1))

	user := "user-" + uuid.NewString()
	if err := completion.MarkVisited(db.DB, user, []int64{tiny.ID}); err != nil {
		t.Fatalf("mark visited: %v", err)
	}

	percent, err := completion.CompletionPercent(db.DB, user, country.ISOCode)
	if err != nil {
		t.Fatalf("completion percent: %v", err)
	}
	if percent != 1 {
		t.Errorf("percent = %d, want 1 (rounding-up rule)", percent)
	}
}

// TestCompletionPercent_EmptyCountry: no units means total 0 and percent 0
// for every user, never an error.
func TestCompletionPercent_EmptyCountry(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("E"))

	percent, err := completion.CompletionPercent(db.DB, "nobody", country.ISOCode)
	if err != nil {
		t.Fatalf("completion percent: %v", err)
	}
	if percent != 0 {
		t.Errorf("percent = %d, want 0", percent)
	}
}

func TestCompletionPercent_UnknownArea(t *testing.T) {
	requireDB(t)
	_, err := completion.CompletionPercent(db.DB, "nobody", "NO-SUCH-AREA")
	var nf *completion.NotFoundError
	if !asError(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestMergeUnits_Disjoint: merged area is the sum of disjoint inputs.
func TestMergeUnits_Disjoint(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("M"))

	a := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	b := insertUnit(t, country.ID, "b", square(2, 0, 3, 1))
	wantArea := a.AreaM2 + b.AreaM2

	merged, err := mergeInTx(t, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !closeTo(merged.AreaM2, wantArea, 1e-6) {
		t.Errorf("merged area = %g, want %g", merged.AreaM2, wantArea)
	}

	// The originals are gone.
	var remaining int64
	db.DB.Model(&completion.CoverageUnit{}).
		Where("admin_area_id = ?", country.ID).Count(&remaining)
	if remaining != 1 {
		t.Errorf("expected 1 unit after merge, got %d", remaining)
	}
}

// TestMergeUnits_Overlapping: overlap between inputs is counted once, so the
// merged area is strictly less than the numeric sum.
func TestMergeUnits_Overlapping(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("O"))

	a := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	b := insertUnit(t, country.ID, "b", square(0.5, 0, 1.5, 1))

	merged, err := mergeInTx(t, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.AreaM2 >= a.AreaM2+b.AreaM2 {
		t.Errorf("merged area %g should be strictly less than %g", merged.AreaM2, a.AreaM2+b.AreaM2)
	}
}

// TestMergeUnits_CrossCountry pins the documented quirk: a merge spanning
// two countries completes and assigns the result to the smallest admin-area
// id among the inputs.
func TestMergeUnits_CrossCountry(t *testing.T) {
	requireDB(t)
	first := createCountry(t, newCode("X"))
	second := createCountry(t, newCode("Y"))
	if second.ID < first.ID {
		first, second = second, first
	}

	a := insertUnit(t, first.ID, "a", square(0, 0, 1, 1))
	b := insertUnit(t, second.ID, "b", square(1, 0, 2, 1))

	merged, err := mergeInTx(t, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("cross-country merge: %v", err)
	}
	if merged.AdminAreaID != first.ID {
		t.Errorf("merged unit owned by %d, want smallest country id %d", merged.AdminAreaID, first.ID)
	}
}

func TestMergeUnits_UnknownID(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("U"))
	a := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))

	_, err := mergeInTx(t, []int64{a.ID, a.ID + 999999})
	var nf *completion.NotFoundError
	if !asError(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestDeleteUnits: freed area equals the deleted units' derived areas, and
// their ledger and cache rows disappear with them.
func TestDeleteUnits(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("D"))
	region := createRegion(t, country, newCode("D")+"-1", square(0, 0, 2, 1))

	a := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	b := insertUnit(t, country.ID, "b", square(1, 0, 2, 1))
	keep := insertUnit(t, country.ID, "keep", square(2, 0, 3, 1))

	user := "user-" + uuid.NewString()
	if err := completion.MarkVisited(db.DB, user, []int64{a.ID, b.ID, keep.ID}); err != nil {
		t.Fatalf("mark visited: %v", err)
	}
	if err := completion.PopulateRegion(db.DB, region.ID); err != nil {
		t.Fatalf("populate: %v", err)
	}

	var freed float64
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		freed, err = completion.DeleteUnits(tx, []int64{a.ID, b.ID})
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !closeTo(freed, a.AreaM2+b.AreaM2, 1e-9) {
		t.Errorf("freed = %g, want %g", freed, a.AreaM2+b.AreaM2)
	}

	var ledger, cache int64
	db.DB.Model(&completion.UserTraveledUnit{}).
		Where("coverage_unit_id IN ?", []int64{a.ID, b.ID}).Count(&ledger)
	db.DB.Model(&completion.UnitRegionOverlap{}).
		Where("coverage_unit_id IN ?", []int64{a.ID, b.ID}).Count(&cache)
	if ledger != 0 || cache != 0 {
		t.Errorf("expected cascaded rows gone, ledger=%d cache=%d", ledger, cache)
	}

	var keptLedger int64
	db.DB.Model(&completion.UserTraveledUnit{}).
		Where("coverage_unit_id = ?", keep.ID).Count(&keptLedger)
	if keptLedger != 1 {
		t.Errorf("unrelated ledger row removed")
	}
}

func TestDeleteUnits_EmptyAndUnknown(t *testing.T) {
	requireDB(t)

	var freed float64
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		freed, err = completion.DeleteUnits(tx, nil)
		return err
	})
	if err != nil || freed != 0 {
		t.Errorf("empty delete: freed=%g err=%v, want 0, nil", freed, err)
	}

	err = db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		freed, err = completion.DeleteUnits(tx, []int64{999999999})
		return err
	})
	if err != nil || freed != 0 {
		t.Errorf("unknown-id delete: freed=%g err=%v, want 0, nil", freed, err)
	}
}

// TestPopulateRegion_Straddle: a unit crossing the R1/R2 boundary shows up
// in both caches, and the two overlaps partition its area.
func TestPopulateRegion_Straddle(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("S"))
	r1 := createRegion(t, country, newCode("S")+"-1", square(0, 0, 1, 1))
	r2 := createRegion(t, country, newCode("S")+"-2", square(1, 0, 2, 1))

	unit := insertUnit(t, country.ID, "straddle", square(0.5, 0, 1.5, 1))

	if err := completion.PopulateRegion(db.DB, r1.ID); err != nil {
		t.Fatalf("populate r1: %v", err)
	}
	if err := completion.PopulateRegion(db.DB, r2.ID); err != nil {
		t.Fatalf("populate r2: %v", err)
	}

	var overlaps []completion.UnitRegionOverlap
	db.DB.Where("coverage_unit_id = ?", unit.ID).Order("admin_area_id").Find(&overlaps)
	if len(overlaps) != 2 {
		t.Fatalf("expected cache rows in both regions, got %d", len(overlaps))
	}
	sum := overlaps[0].OverlapM2 + overlaps[1].OverlapM2
	if !closeTo(sum, unit.AreaM2, 1e-6) {
		t.Errorf("overlap sum = %g, want unit area %g", sum, unit.AreaM2)
	}

	// The visitor of the straddling unit gets 100% of each region's
	// (cache-derived) total.
	user := "user-" + uuid.NewString()
	if err := completion.MarkVisited(db.DB, user, []int64{unit.ID}); err != nil {
		t.Fatalf("mark visited: %v", err)
	}
	for _, region := range []*completion.AdminArea{r1, r2} {
		percent, err := completion.CompletionPercent(db.DB, user, region.ISOCode)
		if err != nil {
			t.Fatalf("percent %s: %v", region.ISOCode, err)
		}
		if percent != 100 {
			t.Errorf("percent for %s = %d, want 100", region.ISOCode, percent)
		}
	}
}

// TestPopulateRegion_Idempotent: two runs with no intervening mutation
// produce an identical cache.
func TestPopulateRegion_Idempotent(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("I"))
	region := createRegion(t, country, newCode("I")+"-1", square(0, 0, 2, 1))
	insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	insertUnit(t, country.ID, "b", square(1.5, 0, 2.5, 1))

	snapshot := func() []completion.UnitRegionOverlap {
		var rows []completion.UnitRegionOverlap
		db.DB.Where("admin_area_id = ?", region.ID).Order("coverage_unit_id").Find(&rows)
		return rows
	}

	if err := completion.PopulateRegion(db.DB, region.ID); err != nil {
		t.Fatalf("populate #1: %v", err)
	}
	first := snapshot()
	if len(first) != 2 {
		t.Fatalf("expected 2 cache rows, got %d", len(first))
	}

	if err := completion.PopulateRegion(db.DB, region.ID); err != nil {
		t.Fatalf("populate #2: %v", err)
	}
	second := snapshot()

	if len(first) != len(second) {
		t.Fatalf("cache size changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("cache row %d changed: %+v -> %+v", i, first[i], second[i])
		}
	}
}

// TestPopulateRegion_RejectsCountry: feeding a level-1 area to population is
// an InvalidLevelError.
func TestPopulateRegion_RejectsCountry(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("L"))

	err := completion.PopulateRegion(db.DB, country.ID)
	var il *completion.InvalidLevelError
	if !asError(err, &il) {
		t.Errorf("expected InvalidLevelError, got %v", err)
	}
}

// TestPopulateRegion_NullGeometry: a region pending rebuild gets an empty
// cache, not an error.
func TestPopulateRegion_NullGeometry(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("N"))
	region := createRegion(t, country, newCode("N")+"-1", "")
	insertUnit(t, country.ID, "a", square(0, 0, 1, 1))

	if err := completion.PopulateRegion(db.DB, region.ID); err != nil {
		t.Fatalf("populate: %v", err)
	}
	percent, err := completion.CompletionPercent(db.DB, "nobody", region.ISOCode)
	if err != nil {
		t.Fatalf("percent: %v", err)
	}
	if percent != 0 {
		t.Errorf("percent = %d, want 0", percent)
	}
}

func TestMarkVisited_IdempotentAndUnknown(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("V"))
	unit := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))

	user := "user-" + uuid.NewString()
	if err := completion.MarkVisited(db.DB, user, []int64{unit.ID}); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := completion.MarkVisited(db.DB, user, []int64{unit.ID}); err != nil {
		t.Fatalf("re-mark should be a no-op: %v", err)
	}

	var count int64
	db.DB.Model(&completion.UserTraveledUnit{}).
		Where("user_id = ? AND coverage_unit_id = ?", user, unit.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected exactly one ledger row, got %d", count)
	}

	err := completion.MarkVisited(db.DB, user, []int64{unit.ID + 999999})
	var nf *completion.NotFoundError
	if !asError(err, &nf) {
		t.Errorf("expected NotFoundError for unknown unit, got %v", err)
	}
}

func TestRebuildCountryGeometry(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("G"))
	insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	insertUnit(t, country.ID, "b", square(1, 0, 2, 1))

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		return completion.RebuildCountryGeometry(tx, country.ID)
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var rebuilt completion.AdminArea
	if err := db.DB.First(&rebuilt, "id = ?", country.ID).Error; err != nil {
		t.Fatalf("reload country: %v", err)
	}
	if rebuilt.Geometry == nil {
		t.Fatal("country geometry still NULL after rebuild")
	}
}

func TestExportCoverageGeoJSON(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("J"))
	a := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))
	b := insertUnit(t, country.ID, "b", square(1, 0, 2, 1))

	export, err := completion.ExportCoverageGeoJSON(db.DB, country.ISOCode)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(export.Features))
	}
	if !closeTo(export.TotalAreaM2, a.AreaM2+b.AreaM2, 1e-9) {
		t.Errorf("total = %g, want %g", export.TotalAreaM2, a.AreaM2+b.AreaM2)
	}

	empty := createCountry(t, newCode("K"))
	_, err = completion.ExportCoverageGeoJSON(db.DB, empty.ISOCode)
	var nf *completion.NotFoundError
	if !asError(err, &nf) {
		t.Errorf("expected NotFoundError for empty country, got %v", err)
	}
}

// TestListByLevel_Ordering: areas come back ordered by parent code then own
// code.
func TestListByLevel_Ordering(t *testing.T) {
	requireDB(t)
	code := newCode("Z")
	country := createCountry(t, code)
	createRegion(t, country, code+"-B", "")
	createRegion(t, country, code+"-A", "")

	regions, err := completion.ListByLevel(db.DB, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	posA, posB := -1, -1
	for i, r := range regions {
		switch r.ISOCode {
		case code + "-A":
			posA = i
		case code + "-B":
			posB = i
		}
	}
	if posA == -1 || posB == -1 {
		t.Fatal("created regions missing from listing")
	}
	if posA > posB {
		t.Errorf("region %s-A listed after %s-B", code, code)
	}
}

func TestVerifyCache_ReportsOrphans(t *testing.T) {
	requireDB(t)
	country := createCountry(t, newCode("W"))
	region := createRegion(t, country, newCode("W")+"-1", square(0, 0, 1, 1))
	unit := insertUnit(t, country.ID, "a", square(0, 0, 1, 1))

	if err := completion.PopulateRegion(db.DB, region.ID); err != nil {
		t.Fatalf("populate: %v", err)
	}

	// Bypass the maintenance path to simulate a missed invalidation.
	db.DB.Exec(`DELETE FROM completion.coverage_units WHERE id = ?`, unit.ID)

	issues, err := completion.VerifyCache(db.DB)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	found := false
	for _, issue := range issues {
		if issue.CoverageUnitID == unit.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected orphaned cache row to be reported")
	}

	err = completion.CheckCache(db.DB)
	var ce *completion.ConsistencyError
	if !asError(err, &ce) {
		t.Errorf("expected ConsistencyError, got %v", err)
	}

	// Repair so later tests start clean.
	db.DB.Exec(`DELETE FROM completion.unit_region_overlaps WHERE coverage_unit_id = ?`, unit.ID)
}

// asError is a tiny errors.As wrapper to keep the assertions readable.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}
