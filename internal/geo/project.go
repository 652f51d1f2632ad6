package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// EPSG codes handled by Project.
const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857

	epsgUTMNorth = 32600
	epsgUTMSouth = 32700
)

// WGS84 ellipsoid and UTM constants.
const (
	wgs84A          = 6378137.0
	wgs84F          = 1 / 298.257223563
	utmScale        = 0.9996
	utmFalseEasting = 500000.0
	utmFalseNorthS  = 10000000.0
)

// Project transforms a WGS84 longitude and latitude into the CRS identified by
// epsg. Supported are EPSG:4326, EPSG:3857 and the WGS84 UTM zones
// (EPSG:32601-32660, EPSG:32701-32760).
func Project(epsg int, lon, lat float64) (float64, float64, error) {
	switch {
	case epsg == EPSGWGS84:
		return lon, lat, nil
	case epsg == EPSGWebMercator:
		p := project.Point(orb.Point{lon, lat}, project.WGS84.ToMercator)
		return p[0], p[1], nil
	case epsg > epsgUTMNorth && epsg <= epsgUTMNorth+60:
		x, y := utm(lon, lat, epsg-epsgUTMNorth)
		return x, y, nil
	case epsg > epsgUTMSouth && epsg <= epsgUTMSouth+60:
		x, y := utm(lon, lat, epsg-epsgUTMSouth)
		return x, y + utmFalseNorthS, nil
	default:
		return 0, 0, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, epsg)
	}
}

// utm is the Krüger series transverse Mercator projection for a UTM zone,
// without the southern false northing. It is accurate to well under a
// millimeter inside the zone.
func utm(lon, lat float64, zone int) (float64, float64) {
	n := wgs84F / (2 - wgs84F)
	n2, n3 := n*n, n*n*n
	radius := wgs84A / (1 + n) * (1 + n2/4 + n2*n2/64)
	alpha := [3]float64{
		n/2 - 2*n2/3 + 5*n3/16,
		13*n2/48 - 3*n3/5,
		61 * n3 / 240,
	}

	lon0 := float64(6*zone - 183)
	phi := lat * math.Pi / 180
	lambda := (lon - lon0) * math.Pi / 180

	e := 2 * math.Sqrt(n) / (1 + n)
	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - e*math.Atanh(e*sinPhi))
	xi0 := math.Atan2(t, math.Cos(lambda))
	eta0 := math.Atanh(math.Sin(lambda) / math.Sqrt(1+t*t))

	xi, eta := xi0, eta0
	for j, a := range alpha {
		k := float64(2 * (j + 1))
		xi += a * math.Sin(k*xi0) * math.Cosh(k*eta0)
		eta += a * math.Cos(k*xi0) * math.Sinh(k*eta0)
	}

	return utmFalseEasting + utmScale*radius*eta, utmScale * radius * xi
}
