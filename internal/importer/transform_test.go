package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarbio/occurharvest/internal/dwca"
)

func TestTransformMapsStringTerms(t *testing.T) {
	row := dwca.Row{
		"http://rs.gbif.org/terms/1.0/gbifID":             "12345",
		"http://rs.tdwg.org/dwc/terms/scientificName":     "Pygoscelis adeliae",
		"http://rs.tdwg.org/dwc/terms/basisOfRecord":      "HUMAN_OBSERVATION",
		"http://rs.tdwg.org/dwc/terms/countryCode":        "AQ",
		"http://rs.tdwg.org/dwc/terms/order":              "Sphenisciformes",
		"http://rs.tdwg.org/dwc/terms/class":              "Aves",
		"http://rs.tdwg.org/dwc/terms/institutionCode":    " POLAR ",
		"http://purl.org/dc/terms/license":                "CC-BY 4.0",
	}

	occ := Transform(row)
	assert.Equal(t, "12345", occ.GbifID)
	assert.Equal(t, "Pygoscelis adeliae", occ.ScientificName)
	assert.Equal(t, "HUMAN_OBSERVATION", occ.BasisOfRecordText)
	assert.Equal(t, "AQ", occ.CountryCode)
	assert.Equal(t, "Sphenisciformes", occ.Order)
	assert.Equal(t, "Aves", occ.Class)
	assert.Equal(t, "POLAR", occ.InstitutionCode, "values are trimmed")
	assert.Equal(t, "CC-BY 4.0", occ.License)
	assert.NotEmpty(t, occ.RowJSONText)
}

func TestTransformNumericCoercion(t *testing.T) {
	occ := Transform(dwca.Row{
		"http://rs.tdwg.org/dwc/terms/decimalLatitude":  "-77.85",
		"http://rs.tdwg.org/dwc/terms/decimalLongitude": "166.67",
		"http://rs.tdwg.org/dwc/terms/coordinateUncertaintyInMeters": "50",
		"http://rs.gbif.org/terms/1.0/depth":            "120.5",
		"http://rs.tdwg.org/dwc/terms/year":             "1998",
		"http://rs.tdwg.org/dwc/terms/month":            "12",
		"http://rs.tdwg.org/dwc/terms/day":              "31",
	})

	require.NotNil(t, occ.DecimalLatitude)
	assert.InDelta(t, -77.85, *occ.DecimalLatitude, 1e-9)
	require.NotNil(t, occ.DecimalLongitude)
	assert.InDelta(t, 166.67, *occ.DecimalLongitude, 1e-9)
	require.NotNil(t, occ.CoordinateUncertaintyInMeters)
	assert.InDelta(t, 50, *occ.CoordinateUncertaintyInMeters, 1e-9)
	require.NotNil(t, occ.Depth)
	assert.InDelta(t, 120.5, *occ.Depth, 1e-9)
	require.NotNil(t, occ.Year)
	assert.Equal(t, 1998, *occ.Year)
	require.NotNil(t, occ.Month)
	assert.Equal(t, 12, *occ.Month)
	require.NotNil(t, occ.Day)
	assert.Equal(t, 31, *occ.Day)
	assert.True(t, occ.HasGeopoint())
}

func TestTransformUnparsableNumbersAreNil(t *testing.T) {
	occ := Transform(dwca.Row{
		"http://rs.tdwg.org/dwc/terms/decimalLatitude":  "sixty south",
		"http://rs.tdwg.org/dwc/terms/decimalLongitude": "30.0",
		"http://rs.tdwg.org/dwc/terms/year":             "circa 1950",
	})

	assert.Nil(t, occ.Year)
	assert.Nil(t, occ.DecimalLatitude)
	assert.Nil(t, occ.DecimalLongitude, "a lone longitude is not a geopoint")
	assert.False(t, occ.HasGeopoint())
}

func TestTransformEmptyRow(t *testing.T) {
	occ := Transform(dwca.Row{})
	assert.Empty(t, occ.GbifID)
	assert.False(t, occ.HasGeopoint())
}
