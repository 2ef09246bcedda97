package models

// CampusLocations is the fixed set of pickup and dropoff points.
var CampusLocations = []string{
	"Main Gate",
	"Nardana Railway Station",
	"Shirpur",
	"Savalde",
}

func IsCampusLocation(name string) bool {
	for _, loc := range CampusLocations {
		if loc == name {
			return true
		}
	}
	return false
}
