package mapview

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection exports the drawable layers. The tile layer has no geometry and is skipped.
func FeatureCollection(layers []Layer) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range layers {
		var g orb.Geometry
		switch {
		case l.Kind == KindPolyline:
			ls := make(orb.LineString, len(l.Points))
			for i, p := range l.Points {
				ls[i] = p.Point()
			}
			g = ls
		case l.Kind.IsMarker() && len(l.Points) > 0:
			g = l.Position().Point()
		default:
			continue
		}

		f := geojson.NewFeature(g)
		f.ID = string(l.ID)
		f.Properties["kind"] = string(l.Kind)
		if l.Popup != "" {
			f.Properties["popup"] = l.Popup
		}
		if l.Kind == KindStation {
			f.Properties["stationIndex"] = l.StationIndex
		}
		fc.Append(f)
	}
	return fc
}
