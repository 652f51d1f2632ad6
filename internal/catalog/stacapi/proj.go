package stacapi

import (
	"github.com/robert-malhotra/changewatch/internal/geo"
)

// projection holds the fields of the STAC projection extension used to
// georeference band assets. They may sit on the item properties or on
// individual assets.
type projection struct {
	EPSG      *int      `json:"proj:epsg"`
	Code      string    `json:"proj:code"`
	Transform []float64 `json:"proj:transform"`
}

type projFeature struct {
	ID         string                `json:"id"`
	Properties projection            `json:"properties"`
	Assets     map[string]projection `json:"assets"`
}

type projResponse struct {
	Features []projFeature `json:"features"`
}

func (r projResponse) byID() map[string]projFeature {
	out := make(map[string]projFeature, len(r.Features))
	for _, f := range r.Features {
		if f.ID != "" {
			out[f.ID] = f
		}
	}
	return out
}

// grids returns the pixel grid of every logical band whose asset (or item)
// carries a usable CRS and transform. Asset values override item values.
func (f projFeature) grids(assetKeys map[string]string) map[string]geo.Grid {
	var out map[string]geo.Grid
	for band, key := range assetKeys {
		asset, ok := f.Assets[key]
		if !ok {
			continue
		}
		g, ok := f.Properties.merge(asset).grid()
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]geo.Grid, len(assetKeys))
		}
		out[band] = g
	}
	return out
}

func (p projection) merge(over projection) projection {
	if over.EPSG != nil || over.Code != "" {
		p.EPSG, p.Code = over.EPSG, over.Code
	}
	if len(over.Transform) > 0 {
		p.Transform = over.Transform
	}
	return p
}

func (p projection) grid() (geo.Grid, bool) {
	epsg := 0
	switch {
	case p.EPSG != nil:
		epsg = *p.EPSG
	case p.Code != "":
		epsg, _ = geo.ParseEPSG(p.Code)
	}
	if epsg == 0 || len(p.Transform) == 0 {
		return geo.Grid{}, false
	}
	g, err := geo.NewGrid(epsg, p.Transform)
	return g, err == nil
}
