package rateshop

import "strings"

type Zone string

const (
	ZoneLocal    Zone = "LOCAL"
	ZoneRegional Zone = "REGIONAL"
	ZoneZonal    Zone = "ZONAL"
	ZoneNational Zone = "NATIONAL"
)

// ZoneFor classifies a route by how many leading postal code digits origin and destination share.
// Indian pincodes encode region, sub-region and sorting district in their first three digits.
func ZoneFor(origin, destination string) Zone {
	o := strings.ReplaceAll(strings.TrimSpace(origin), " ", "")
	d := strings.ReplaceAll(strings.TrimSpace(destination), " ", "")

	shared := 0
	for shared < 3 && shared < len(o) && shared < len(d) && o[shared] == d[shared] {
		shared++
	}
	switch shared {
	case 3:
		return ZoneLocal
	case 2:
		return ZoneRegional
	case 1:
		return ZoneZonal
	default:
		return ZoneNational
	}
}
