// Package views renders the report pages from embedded HTML templates.
package views

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"time"

	"github.com/kjstillabower/station-forecast-service/internal/models"
)

//go:embed templates/*.html
var viewsFS embed.FS

const (
	PageHome               = "home.html"
	PageLocations          = "locations.html"
	PageLatestForecast     = "latest_forecast.html"
	PageAverageTemperature = "average_temperature.html"
	PageError              = "error.html"
)

var pageNames = []string{PageHome, PageLocations, PageLatestForecast, PageAverageTemperature, PageError}

// pages holds one template set per page, each layered on base.html.
var pages map[string]*template.Template

var errNotLoaded = errors.New("templates not loaded: call views.LoadTemplates during startup")

// loadTemplatesFromFS parses base.html plus every page from dir in fsys.
// Tests use it with fstest.MapFS to simulate failures.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	base, err := template.ParseFS(sub, "base.html")
	if err != nil {
		return err
	}

	loaded := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return err
		}
		if _, err := clone.ParseFS(sub, name); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		loaded[name] = clone
	}
	pages = loaded
	return nil
}

// LoadTemplates loads the embedded templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// RunSummary is the last ingestion run as shown on the home page.
type RunSummary struct {
	State     string
	StartedAt time.Time
	Stations  int
	Forecasts int
}

type HomeData struct {
	LastRun *RunSummary
}

type LocationsData struct {
	Rows []models.LocationRow
}

type LatestForecastData struct {
	Rows []models.LatestForecastRow
}

type AverageTemperatureData struct {
	Rows []models.AverageTemperatureRow
}

type ErrorData struct {
	Message string
}

func RenderHome(w io.Writer, data *HomeData) error {
	return render(w, PageHome, data)
}

func RenderLocations(w io.Writer, data *LocationsData) error {
	return render(w, PageLocations, data)
}

func RenderLatestForecast(w io.Writer, data *LatestForecastData) error {
	return render(w, PageLatestForecast, data)
}

func RenderAverageTemperature(w io.Writer, data *AverageTemperatureData) error {
	return render(w, PageAverageTemperature, data)
}

func RenderError(w io.Writer, data *ErrorData) error {
	return render(w, PageError, data)
}

func render(w io.Writer, page string, data any) error {
	tmpl, ok := pages[page]
	if !ok {
		return errNotLoaded
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}
