// Package hexbin assigns stored occurrences to fixed hexagonal grid cells
// and maintains per-cell counts and magnitude categories for map display.
package hexbin

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/polarbio/occurharvest/internal/conf"
	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
	"github.com/polarbio/occurharvest/internal/logging"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/hexbin.log", "hexbin", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.Default().With("service", "hexbin")
	}
}

// Category maps an occurrence count to its magnitude category: zero stays
// zero, then one category per decade up to six.
func Category(count int) int {
	switch {
	case count <= 0:
		return 0
	case count < 10:
		return 1
	case count < 100:
		return 2
	case count < 1000:
		return 3
	case count < 10000:
		return 4
	case count < 100000:
		return 5
	default:
		return 6
	}
}

// Binner loads grid definitions and recomputes cell statistics.
type Binner struct {
	settings *conf.Settings
	store    datastore.Interface
}

// New builds a binner over an open store.
func New(settings *conf.Settings, store datastore.Interface) *Binner {
	return &Binner{settings: settings, store: store}
}

// LoadGrids reads every grid definition below the grids directory into the
// store. The directory holds one subdirectory per resolution, named by its
// size, each containing GeoJSON feature collections of cells in the planar
// grid projection. Loading the same grids again is a no-op.
func (b *Binner) LoadGrids() (int, error) {
	gridsDir := conf.GetBasePath(b.settings.Hexbin.GridsDir)
	entries, err := os.ReadDir(gridsDir)
	if err != nil {
		return 0, errors.New(err).
			Component("hexbin").
			Category(errors.CategoryFileIO).
			Context("dir", gridsDir).
			Build()
	}

	existing, err := b.store.GridSizes()
	if err != nil {
		return 0, err
	}
	have := make(map[int]bool, len(existing))
	for _, s := range existing {
		have[s] = true
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		size, err := strconv.Atoi(entry.Name())
		if err != nil {
			logger.Warn("grid directory name is not a size, skipping", "name", entry.Name())
			continue
		}
		if have[size] {
			continue
		}
		n, err := b.loadGridSize(filepath.Join(gridsDir, entry.Name()), size)
		if err != nil {
			return loaded, err
		}
		loaded += n
		logger.Info("grid loaded", "size", size, "cells", n)
	}
	return loaded, nil
}

func (b *Binner) loadGridSize(dir string, size int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.New(err).
			Component("hexbin").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".geojson") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return count, errors.New(err).
				Component("hexbin").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return count, errors.New(err).
				Component("hexbin").
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}

		for _, feat := range fc.Features {
			geom := asMultiPolygon(feat.Geometry)
			if geom == nil {
				continue
			}
			raw, err := geojson.NewGeometry(geom).MarshalJSON()
			if err != nil {
				return count, errors.New(err).
					Component("hexbin").
					Category(errors.CategoryFileParsing).
					Context("path", path).
					Build()
			}
			bound := geom.Bound()
			cell := &datastore.HexGrid{
				Left:   &bound.Min[0],
				Bottom: &bound.Min[1],
				Right:  &bound.Max[0],
				Top:    &bound.Max[1],
				Geom:   string(raw),
				Size:   size,
			}
			if err := b.store.SaveHexGrid(cell); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func asMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.MultiPolygon:
		return geom
	case orb.Polygon:
		return orb.MultiPolygon{geom}
	default:
		return nil
	}
}

// cell is one grid cell with its decoded geometry, ready for point tests.
type cell struct {
	id    uint
	bound orb.Bound
	geom  orb.MultiPolygon
}

// Recompute assigns stored occurrences with a geopoint to the cells of
// every grid resolution and refreshes counts and categories. Occurrences
// already assigned keep their cell; rebuild drops all assignments first and
// starts from an empty grid.
func (b *Binner) Recompute(rebuild bool) error {
	sizes, err := b.store.GridSizes()
	if err != nil {
		return err
	}
	sort.Ints(sizes)

	for _, size := range sizes {
		if err := b.recomputeSize(size, rebuild); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binner) recomputeSize(size int, rebuild bool) error {
	if rebuild {
		if err := b.store.ClearGridAssignments(size); err != nil {
			return err
		}
	}
	assigned, err := b.store.AssignedOccurrenceIDs(size)
	if err != nil {
		return err
	}

	grids, err := b.store.HexGridsBySize(size)
	if err != nil {
		return err
	}
	cells := make([]cell, 0, len(grids))
	for i := range grids {
		g, err := geojson.UnmarshalGeometry([]byte(grids[i].Geom))
		if err != nil {
			return errors.New(err).
				Component("hexbin").
				Category(errors.CategoryFileParsing).
				Context("grid_id", grids[i].ID).
				Build()
		}
		mp := asMultiPolygon(g.Geometry())
		if mp == nil {
			continue
		}
		cells = append(cells, cell{id: grids[i].ID, bound: mp.Bound(), geom: mp})
	}

	assignments := make(map[uint][]uint)
	err = b.store.OccurrencesWithGeopoint(5000, func(batch []datastore.Occurrence) error {
		for i := range batch {
			occ := &batch[i]
			if _, done := assigned[occ.ID]; done {
				continue
			}
			point := project(*occ.DecimalLongitude, *occ.DecimalLatitude)
			for j := range cells {
				if !cells[j].bound.Contains(point) {
					continue
				}
				if planar.MultiPolygonContains(cells[j].geom, point) {
					assignments[cells[j].id] = append(assignments[cells[j].id], occ.ID)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	added := 0
	for gridID, occIDs := range assignments {
		for start := 0; start < len(occIDs); start += 1000 {
			end := min(start+1000, len(occIDs))
			if err := b.store.AssignOccurrences(gridID, occIDs[start:end]); err != nil {
				return err
			}
		}
		added += len(occIDs)
	}

	// Counts and categories come from the stored links so cells untouched in
	// this run, and cells emptied by a rebuild, end up right as well.
	counts, err := b.store.GridLinkCounts(size)
	if err != nil {
		return err
	}
	for i := range grids {
		n := counts[grids[i].ID]
		if err := b.store.UpdateGridStats(grids[i].ID, n, Category(n)); err != nil {
			return err
		}
	}

	logger.Info("grid recomputed", "size", size, "cells", len(cells), "newly_assigned", added)
	return nil
}
