package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// DefaultSRID is WGS 84.
const DefaultSRID = 4326

// EncodeCell converts a cell centre to EWKB bytes with the given SRID.
// Returns nil, nil for a nil coordinate.
func EncodeCell(c geom.Coord, srid int) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	if len(c) < 2 {
		return nil, eris.Errorf("geo: coordinate has %d dimensions", len(c))
	}

	p := geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode WKB")
	}
	return data, nil
}

// DecodeCell parses EWKB bytes produced by EncodeCell.
func DecodeCell(data []byte) (geom.Coord, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geo: decode WKB")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("geo: expected point, got %T", g)
	}
	return geom.Coord{p.X(), p.Y()}, nil
}
