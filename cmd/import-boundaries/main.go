package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/TrailTally/TT-Backend/internal/completion"
	"github.com/TrailTally/TT-Backend/internal/geometry"
	"github.com/TrailTally/TT-Backend/internal/utils"
	"github.com/goccy/go-yaml"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb/geojson"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// CLI flags
var (
	manifestPath = flag.String("manifest", "countries.yaml", "YAML manifest of countries/regions to import")
	dataDir      = flag.String("data", "data", "Directory holding <CC>.geojson unit files and regions/<code>.geojson boundaries")
	dsn          = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	boundaryURL  = flag.String("boundary-url", "", "Template URL for region boundaries, %s replaced by the region code")
	cleanFirst   = flag.Bool("clean", false, "Delete all existing completion data before importing")
	dryRun       = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	confirm      = flag.Bool("confirm", false, "Required together with --clean")
	advisoryKey  = flag.Int64("advisory-lock", 424243, "Postgres advisory lock key guarding concurrent imports. 0 = disabled")
	skipPopulate = flag.Bool("skip-populate", false, "Skip cache population after import (percentages stay stale until cmd/populate runs)")
	fetchRate    = flag.Float64("fetch-rate", 0.5, "Max region boundary fetches per second")
)

// Manifest contract: one entry per country; region codes are a
// comma-separated list ("US-CA, US-NV").
type Manifest struct {
	Countries []struct {
		Code    string `yaml:"code"`
		Name    string `yaml:"name"`
		File    string `yaml:"file"`
		Regions string `yaml:"regions"`
	} `yaml:"countries"`
}

type counts struct {
	Countries int
	Units     int
	Skipped   int
	Regions   int
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *dsn == "" && !*dryRun {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}
	if *cleanFirst && !*confirm {
		fatalf("--clean requires --confirm")
	}

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		fatalf("manifest: %v", err)
	}
	if len(manifest.Countries) == 0 {
		fatalf("manifest lists no countries")
	}

	if *dryRun {
		c, err := validateOnly(manifest)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("dry run OK: %d countries, %d units, %d regions\n", c.Countries, c.Units, c.Regions)
		return
	}

	sqlDB, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("open db: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	// Serialize concurrent imports on the same database.
	if *advisoryKey != 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, *advisoryKey); err != nil {
			fatalf("advisory lock: %v", err)
		}
	}

	if *cleanFirst {
		if err := cleanTables(ctx, tx); err != nil {
			fatalf("clean: %v", err)
		}
		fmt.Println("✓ Tables cleaned")
	}

	limiter := rate.NewLimiter(rate.Limit(*fetchRate), 1)
	var c counts
	for _, country := range manifest.Countries {
		if err := importCountry(ctx, tx, country.Code, country.Name, country.File, &c); err != nil {
			fatalf("country %s: %v", country.Code, err)
		}
		for _, regionCode := range utils.SplitList(country.Regions, ",") {
			if err := importRegion(ctx, tx, country.Code, regionCode, limiter); err != nil {
				fatalf("region %s: %v", regionCode, err)
			}
			c.Regions++
		}
		c.Countries++
	}

	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Printf("✓ Imported %d countries, %d units (%d already present), %d regions\n",
		c.Countries, c.Units, c.Skipped, c.Regions)

	if *skipPopulate {
		fmt.Println("Skipping cache population; run cmd/populate before trusting any percentage.")
		return
	}
	gdb, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{})
	if err != nil {
		fatalf("open gorm: %v", err)
	}
	if err := completion.PopulateAll(ctx, gdb); err != nil {
		fatalf("populate: %v", err)
	}
	fmt.Println("✓ Intersection cache populated")
}

func loadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func cleanTables(ctx context.Context, tx *sql.Tx) error {
	// Dependency order: derived tables first, sources last.
	for _, stmt := range []string{
		`DELETE FROM completion.unit_region_overlaps`,
		`DELETE FROM completion.user_traveled_units`,
		`DELETE FROM completion.coverage_units`,
		`DELETE FROM completion.admin_areas`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func validateOnly(m *Manifest) (counts, error) {
	var c counts
	for _, country := range m.Countries {
		fc, err := readFeatureCollection(filepath.Join(*dataDir, country.File))
		if err != nil {
			return c, fmt.Errorf("country %s: %w", country.Code, err)
		}
		for i, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			raw, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
			if err != nil {
				return c, fmt.Errorf("country %s feature %d: %w", country.Code, i, err)
			}
			if _, err := geometry.Decode(string(raw)); err != nil {
				return c, fmt.Errorf("country %s feature %d: %w", country.Code, i, err)
			}
			c.Units++
		}
		c.Regions += len(utils.SplitList(country.Regions, ","))
		c.Countries++
	}
	return c, nil
}

func readFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return geojson.UnmarshalFeatureCollection(raw)
}

// upsertArea finds or creates an admin area row, returning its id.
func upsertArea(ctx context.Context, tx *sql.Tx, isoCode string, level int, parentID *int64, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM completion.admin_areas WHERE iso_code = $1 AND level = $2
	`, isoCode, level).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if name == "" {
		name = isoCode
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO completion.admin_areas (iso_code, level, parent_admin_area_id, name, geometry)
		VALUES ($1, $2, $3, $4, NULL)
		RETURNING id
	`, isoCode, level, parentID, norm.NFC.String(name)).Scan(&id)
	return id, err
}

func importCountry(ctx context.Context, tx *sql.Tx, isoCode, name, file string, c *counts) error {
	countryID, err := upsertArea(ctx, tx, isoCode, 1, nil, name)
	if err != nil {
		return fmt.Errorf("upsert country: %w", err)
	}

	fc, err := readFeatureCollection(filepath.Join(*dataDir, file))
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(fc.Features)), isoCode)
	var geoms []string
	for idx, f := range fc.Features {
		bar.Add(1)
		if f.Geometry == nil {
			continue
		}
		raw, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return fmt.Errorf("feature %d: %w", idx, err)
		}
		geomJSON := string(raw)
		if _, err := geometry.Decode(geomJSON); err != nil {
			return fmt.Errorf("feature %d: %w", idx, err)
		}
		area, err := geometry.AreaM2(geomJSON)
		if err != nil {
			return fmt.Errorf("feature %d: %w", idx, err)
		}

		sourceID := fmt.Sprintf("%s:%d", isoCode, idx)
		if v, ok := f.Properties["id"]; ok {
			sourceID = fmt.Sprint(v)
		}
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return fmt.Errorf("feature %d properties: %w", idx, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO completion.coverage_units (admin_area_id, source_feature_id, geometry, area_m2, properties)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (admin_area_id, source_feature_id) DO NOTHING
		`, countryID, sourceID, geomJSON, area, string(props))
		if err != nil {
			return fmt.Errorf("insert feature %d: %w", idx, err)
		}
		geoms = append(geoms, geomJSON)
		if n, _ := res.RowsAffected(); n > 0 {
			c.Units++
		} else {
			c.Skipped++
		}
	}

	if len(geoms) == 0 {
		return nil
	}
	// Country boundary is derived from its units, same as the rebuild op.
	union, err := geometry.Union(geoms)
	if err != nil {
		return fmt.Errorf("country union: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE completion.admin_areas SET geometry = $1 WHERE id = $2
	`, union, countryID)
	return err
}

func importRegion(ctx context.Context, tx *sql.Tx, countryCode, regionCode string, limiter *rate.Limiter) error {
	countryID, err := upsertArea(ctx, tx, countryCode, 1, nil, "")
	if err != nil {
		return fmt.Errorf("upsert parent: %w", err)
	}
	regionID, err := upsertArea(ctx, tx, regionCode, 2, &countryID, "")
	if err != nil {
		return fmt.Errorf("upsert region: %w", err)
	}

	geomJSON, err := regionBoundary(ctx, regionCode, limiter)
	if err != nil {
		return err
	}
	if geomJSON == "" {
		// No boundary source configured; region stays NULL pending rebuild.
		return nil
	}
	if _, err := geometry.Decode(geomJSON); err != nil {
		return fmt.Errorf("boundary: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE completion.admin_areas SET geometry = $1 WHERE id = $2
	`, geomJSON, regionID)
	return err
}

// regionBoundary loads a region's boundary geometry from the local data
// directory, falling back to the configured HTTP source with rate limiting
// and retries.
func regionBoundary(ctx context.Context, regionCode string, limiter *rate.Limiter) (string, error) {
	local := filepath.Join(*dataDir, "regions", regionCode+".geojson")
	if raw, err := os.ReadFile(local); err == nil {
		return boundaryGeometry(raw)
	}
	if *boundaryURL == "" {
		return "", nil
	}

	url := fmt.Sprintf(*boundaryURL, regionCode)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		raw, err := fetch(ctx, url)
		if err == nil {
			return boundaryGeometry(raw)
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 2 * time.Second)
	}
	return "", fmt.Errorf("fetch %s: %w", url, lastErr)
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// boundaryGeometry accepts either a bare GeoJSON geometry or a
// FeatureCollection, unioning the latter's features into one geometry.
func boundaryGeometry(raw []byte) (string, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil {
		var geoms []string
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			g, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
			if err != nil {
				return "", err
			}
			geoms = append(geoms, string(g))
		}
		if len(geoms) == 0 {
			return "", fmt.Errorf("feature collection has no geometries")
		}
		return geometry.Union(geoms)
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return "", fmt.Errorf("parse boundary: %w", err)
	}
	out, err := g.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
