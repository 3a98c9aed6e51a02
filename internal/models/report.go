package models

type LocationRow struct {
	ID   int
	Name string
}

type LatestForecastRow struct {
	Name        string
	Date        string
	Time        string
	Temperature float64
}

// AverageTemperatureRow is the mean of the latest three samples of a day, rounded to 2 decimals.
type AverageTemperatureRow struct {
	Name               string
	Date               string
	AverageTemperature float64
}
