package importer

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/polarbio/occurharvest/internal/datastore"
	"github.com/polarbio/occurharvest/internal/dwca"
)

// Darwin Core term URIs handled with numeric coercion rather than the
// generic string mapping.
const (
	termDecimalLatitude  = "http://rs.tdwg.org/dwc/terms/decimalLatitude"
	termDecimalLongitude = "http://rs.tdwg.org/dwc/terms/decimalLongitude"
	termCoordUncertainty = "http://rs.tdwg.org/dwc/terms/coordinateUncertaintyInMeters"
	termCoordPrecision   = "http://rs.tdwg.org/dwc/terms/coordinatePrecision"
	termDepth            = "http://rs.gbif.org/terms/1.0/depth"
	termYear             = "http://rs.tdwg.org/dwc/terms/year"
	termMonth            = "http://rs.tdwg.org/dwc/terms/month"
	termDay              = "http://rs.tdwg.org/dwc/terms/day"
)

// termFields maps term URI to the Occurrence struct field index, built once
// from the dwc struct tags.
var (
	termFields     map[string]int
	termFieldsOnce sync.Once
)

func fieldMapping() map[string]int {
	termFieldsOnce.Do(func() {
		termFields = make(map[string]int)
		t := reflect.TypeOf(datastore.Occurrence{})
		for i := 0; i < t.NumField(); i++ {
			if term := t.Field(i).Tag.Get("dwc"); term != "" {
				termFields[term] = i
			}
		}
	})
	return termFields
}

// Transform converts one core row into an occurrence entity. String terms
// map through the dwc struct tags; numeric terms are coerced and left nil
// when the source value does not parse. The verbatim row is serialized into
// RowJSONText for free text search.
func Transform(row dwca.Row) *datastore.Occurrence {
	occ := &datastore.Occurrence{}
	v := reflect.ValueOf(occ).Elem()

	for term, idx := range fieldMapping() {
		if value, ok := row[term]; ok && value != "" {
			v.Field(idx).SetString(strings.TrimSpace(value))
		}
	}

	occ.DecimalLatitude = parseFloat(row[termDecimalLatitude])
	occ.DecimalLongitude = parseFloat(row[termDecimalLongitude])
	occ.CoordinateUncertaintyInMeters = parseFloat(row[termCoordUncertainty])
	occ.CoordinatePrecision = parseFloat(row[termCoordPrecision])
	occ.Depth = parseFloat(row[termDepth])
	occ.Year = parseInt(row[termYear])
	occ.Month = parseInt(row[termMonth])
	occ.Day = parseInt(row[termDay])

	// A geopoint needs both coordinates; a lone latitude is as good as none.
	if occ.DecimalLatitude == nil || occ.DecimalLongitude == nil {
		occ.DecimalLatitude = nil
		occ.DecimalLongitude = nil
	}

	if data, err := json.Marshal(row); err == nil {
		occ.RowJSONText = string(data)
	}
	return occ
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
