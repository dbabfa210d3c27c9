package store

import (
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius used for great-circle math.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two coordinates in
// kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ConvertKm converts a kilometer distance into the requested unit. Units
// follow the usual geo-store vocabulary: m, km, mi, ft.
func ConvertKm(km float64, unit string) (float64, error) {
	switch unit {
	case "km", "":
		return km, nil
	case "m":
		return km * 1000, nil
	case "mi":
		return km / 1.609344, nil
	case "ft":
		return km * 3280.839895, nil
	default:
		return 0, fmt.Errorf("unsupported distance unit %q", unit)
	}
}
