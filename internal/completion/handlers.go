package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/TrailTally/TT-Backend/internal/db"
	"github.com/TrailTally/TT-Backend/internal/geometry"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// contiguityTolerance is the buffer (degrees) within which two units count
// as touching for operator merges.
const contiguityTolerance = 1e-4

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeDomainError maps the error taxonomy onto HTTP statuses for operator
// endpoints. End-user completion queries never reach this; they degrade to
// 0% instead.
func writeDomainError(w http.ResponseWriter, err error) {
	var nf *NotFoundError
	var il *InvalidLevelError
	var ig *InvalidGeometryError
	var ce *ConsistencyError
	switch {
	case errors.As(err, &nf):
		http.Error(w, nf.Error(), http.StatusNotFound)
	case errors.As(err, &il):
		http.Error(w, il.Error(), http.StatusBadRequest)
	case errors.As(err, &ig):
		http.Error(w, ig.Error(), http.StatusBadRequest)
	case errors.As(err, &ce):
		http.Error(w, ce.Error(), http.StatusConflict)
	default:
		http.Error(w, "Internal error: "+err.Error(), http.StatusInternalServerError)
	}
}

func ListAreasHandler(w http.ResponseWriter, r *http.Request) {
	level := 1
	if s := r.URL.Query().Get("level"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || (v != 1 && v != 2) {
			http.Error(w, "level must be 1 or 2", http.StatusBadRequest)
			return
		}
		level = v
	}

	areas, err := ListByLevel(db.DB, level)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if areas == nil {
		areas = []AdminAreaOut{}
	}
	writeJSON(w, areas)
}

func ContinentsHandler(w http.ResponseWriter, r *http.Request) {
	countries, err := ListByLevel(db.DB, 1)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	regions, err := ListByLevel(db.DB, 2)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, GroupByContinent(countries, regions))
}

// PercentHandler serves the completion percentage. Unknown area codes 404;
// anything else that goes wrong degrades to 0% so end users never see
// internal errors from a completion query.
func PercentHandler(w http.ResponseWriter, r *http.Request) {
	areaCode := chi.URLParam(r, "areaCode")
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	percent, err := CompletionPercent(db.DB, userID, areaCode)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			http.Error(w, nf.Error(), http.StatusNotFound)
			return
		}
		log.Printf("completion percent %s/%s degraded to 0: %v", userID, areaCode, err)
		percent = 0
	}
	writeJSON(w, map[string]int{"percent": percent})
}

func VisitedHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		User    string  `json:"user"`
		UnitIDs []int64 `json:"unit_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.User == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	if err := MarkVisited(db.DB, input.User, input.UnitIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func ExportHandler(w http.ResponseWriter, r *http.Request) {
	cc := chi.URLParam(r, "cc")
	export, err := ExportCoverageGeoJSON(db.DB, cc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, export)
}

func PopulateAllHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UTC()
	err := PopulateAll(r.Context(), db.DB)
	RecordRun(db.DB, "populate_all", "*", 0, start, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func PopulateRegionHandler(w http.ResponseWriter, r *http.Request) {
	regionCode := chi.URLParam(r, "regionCode")
	start := time.Now().UTC()

	err := func() error {
		region, err := AreaByCode(db.DB, regionCode)
		if err != nil {
			return err
		}
		return PopulateRegion(db.DB, region.ID)
	}()
	RecordRun(db.DB, "populate_region", regionCode, 0, start, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func MergeHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		UnitIDs []int64 `json:"unit_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(input.UnitIDs) < 2 {
		http.Error(w, "merge requires at least two units", http.StatusBadRequest)
		return
	}

	start := time.Now().UTC()
	var merged *CoverageUnit
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		merged, err = MergeUnits(tx, input.UnitIDs)
		return err
	})
	RecordRun(db.DB, "merge", fmt.Sprint(input.UnitIDs), 0, start, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"unit_id": merged.ID})
}

func DeleteHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		UnitIDs []int64 `json:"unit_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now().UTC()
	var freed float64
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		freed, err = DeleteUnits(tx, input.UnitIDs)
		return err
	})
	RecordRun(db.DB, "delete", fmt.Sprint(input.UnitIDs), freed, start, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"freed_area_m2": freed})
}

func RebuildHandler(w http.ResponseWriter, r *http.Request) {
	cc := chi.URLParam(r, "cc")
	start := time.Now().UTC()

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		country, err := countryByCode(tx, cc)
		if err != nil {
			return err
		}
		return RebuildCountryGeometry(tx, country.ID)
	})
	RecordRun(db.DB, "rebuild_geometry", cc, 0, start, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

type queueOperation struct {
	Type       string  `json:"type"`
	PolygonIDs []int64 `json:"polygonIds"`
}

func queueResult(w http.ResponseWriter, ok bool, format string, args ...any) {
	writeJSON(w, map[string]any{"success": ok, "message": fmt.Sprintf(format, args...)})
}

// QueueHandler processes an ordered batch of merge/delete operations from
// the coverage editor against one country, then rebuilds the country's
// boundary, all in a single transaction, so a rejected operation rolls the
// whole batch back and leaves the previous consistent state in place.
func QueueHandler(w http.ResponseWriter, r *http.Request) {
	cc := chi.URLParam(r, "cc")

	var operations []queueOperation
	if err := json.NewDecoder(r.Body).Decode(&operations); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(operations) == 0 {
		queueResult(w, false, "No operations to process")
		return
	}

	start := time.Now().UTC()
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		country, err := countryByCode(tx, cc)
		if err != nil {
			return err
		}
		for _, op := range operations {
			switch op.Type {
			case "delete":
				if _, err := DeleteUnits(tx, op.PolygonIDs); err != nil {
					return err
				}
			case "merge":
				if len(op.PolygonIDs) != 2 {
					return fmt.Errorf("merge requires exactly 2 polygons, got %d", len(op.PolygonIDs))
				}
				if err := checkContiguous(tx, op.PolygonIDs[0], op.PolygonIDs[1]); err != nil {
					return err
				}
				if _, err := MergeUnits(tx, op.PolygonIDs); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown operation type: %s", op.Type)
			}
		}
		return RebuildCountryGeometry(tx, country.ID)
	})
	RecordRun(db.DB, "edit_queue", cc, 0, start, err)
	if err != nil {
		queueResult(w, false, "Error processing operations: %v", err)
		return
	}

	plural := ""
	if len(operations) > 1 {
		plural = "s"
	}
	queueResult(w, true, "Successfully processed %d operation%s", len(operations), plural)
}

func checkContiguous(tx *gorm.DB, aID, bID int64) error {
	var a, b CoverageUnit
	if err := tx.First(&a, "id = ?", aID).Error; err != nil {
		return &NotFoundError{Kind: "coverage unit", Ref: fmt.Sprint(aID)}
	}
	if err := tx.First(&b, "id = ?", bID).Error; err != nil {
		return &NotFoundError{Kind: "coverage unit", Ref: fmt.Sprint(bID)}
	}
	ok, err := geometry.Contiguous(a.Geometry, b.Geometry, contiguityTolerance)
	if err != nil {
		return &InvalidGeometryError{Reason: err.Error()}
	}
	if !ok {
		return fmt.Errorf("selected polygons are not contiguous and cannot be merged")
	}
	return nil
}

func VerifyHandler(w http.ResponseWriter, r *http.Request) {
	issues, err := VerifyCache(db.DB)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if issues == nil {
		issues = []CacheIssue{}
	}
	status := http.StatusOK
	if len(issues) > 0 {
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"issues": issues}); err != nil {
		log.Printf("encode verify response: %v", err)
	}
}

func RunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}
	runs, err := RecentRuns(db.DB, limit)
	if err != nil {
		http.Error(w, "DB error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []MaintenanceRun{}
	}
	writeJSON(w, runs)
}
