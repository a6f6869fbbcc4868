package hexbin

import (
	"math"

	"github.com/paulmach/orb"
)

// South polar stereographic projection on the WGS84 ellipsoid with the
// standard parallel at 71 degrees south, the projection the grid files are
// built in. Point coordinates are meters from the pole.
const (
	semiMajorAxis    = 6378137.0
	eccentricity     = 0.0818191908426215
	standardParallel = -71.0 * math.Pi / 180
	centralMeridian  = 0.0
)

var (
	projTF float64
	projMF float64
)

func init() {
	projTF = halfAngleT(standardParallel)
	sinF := math.Sin(standardParallel)
	projMF = math.Cos(standardParallel) / math.Sqrt(1-eccentricity*eccentricity*sinF*sinF)
}

func halfAngleT(lat float64) float64 {
	esin := eccentricity * math.Sin(lat)
	return math.Tan(math.Pi/4+lat/2) / math.Pow((1+esin)/(1-esin), eccentricity/2)
}

// project maps a WGS84 longitude/latitude point in decimal degrees to
// planar grid coordinates.
func project(lon, lat float64) orb.Point {
	phi := lat * math.Pi / 180
	lambda := lon*math.Pi/180 - centralMeridian

	t := halfAngleT(phi)
	rho := semiMajorAxis * projMF * t / projTF

	return orb.Point{rho * math.Sin(lambda), rho * math.Cos(lambda)}
}
