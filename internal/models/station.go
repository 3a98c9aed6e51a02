package models

// Station is one measurement location from the provider's station directory.
// IDs are assigned per ingestion run and are not stable across runs.
type Station struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinate returns the station's position as a request coordinate.
func (s Station) Coordinate() Coordinate {
	return Coordinate{Lat: s.Latitude, Lon: s.Longitude}
}

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ForecastPoint is one temperature reading for one station at one timestamp.
type ForecastPoint struct {
	ID          int     `json:"id"`
	LocationID  int     `json:"locationId"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Time        string  `json:"time"` // HH:MM:SS, UTC
	Temperature float64 `json:"temperature"`
}
