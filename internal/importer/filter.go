package importer

import (
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/errors"
)

// SkipReason explains why a record was not kept.
type SkipReason int

const (
	Kept SkipReason = iota
	SkipMissingID
	SkipDuplicate
	SkipNoGeopoint
	SkipOutsideRegion
)

// Filter decides which transformed records are kept. Duplicate detection is
// scoped to the current batch; the loader resets it on every flush and the
// unique record id column backstops anything that slips across batches.
type Filter struct {
	region     orb.MultiPolygon
	fullImport bool
	existing   map[string]struct{}
	seen       map[string]struct{}
}

// NewFilter builds a filter. region may be nil only when fullImport is set.
// existing holds record ids already stored for the dataset, so partial
// reimports never insert a stored record twice.
func NewFilter(region orb.MultiPolygon, fullImport bool, existing map[string]struct{}) *Filter {
	if existing == nil {
		existing = map[string]struct{}{}
	}
	return &Filter{
		region:     region,
		fullImport: fullImport,
		existing:   existing,
		seen:       map[string]struct{}{},
	}
}

// Accept applies the id, duplicate and geographic rules in order.
func (f *Filter) Accept(occ *datastore.Occurrence) SkipReason {
	if occ.GbifID == "" {
		return SkipMissingID
	}
	if _, dup := f.seen[occ.GbifID]; dup {
		return SkipDuplicate
	}
	if _, dup := f.existing[occ.GbifID]; dup {
		return SkipDuplicate
	}

	if !f.fullImport {
		if !occ.HasGeopoint() {
			return SkipNoGeopoint
		}
		point := orb.Point{*occ.DecimalLongitude, *occ.DecimalLatitude}
		if !f.inRegion(point) {
			return SkipOutsideRegion
		}
	}

	f.seen[occ.GbifID] = struct{}{}
	return Kept
}

// ResetSeen clears the per-batch duplicate set after a flush.
func (f *Filter) ResetSeen() {
	f.seen = map[string]struct{}{}
}

// inRegion reports whether the point lies inside or on the boundary of the
// region polygon.
func (f *Filter) inRegion(p orb.Point) bool {
	if len(f.region) == 0 {
		return false
	}
	return planar.MultiPolygonContains(f.region, p)
}

// LoadRegion reads the region of interest polygon from a GeoJSON file. The
// file may hold a Feature, a FeatureCollection (first feature wins) or a
// bare geometry; Polygon geometries promote to MultiPolygon.
func LoadRegion(path string) (orb.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var geom orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		geom = fc.Features[0].Geometry
	} else if feat, err := geojson.UnmarshalFeature(data); err == nil {
		geom = feat.Geometry
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		geom = g.Geometry()
	} else {
		return nil, errors.Newf("file %s holds no GeoJSON feature or geometry", path).
			Component("importer").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	switch g := geom.(type) {
	case orb.MultiPolygon:
		return g, nil
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	default:
		return nil, errors.Newf("region geometry is %s, want polygon", geom.GeoJSONType()).
			Component("importer").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
}
