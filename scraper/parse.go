package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecocounter_ingest/models"
)

// SmartView response types. Pointers mark fields that must be present.

type siteCatalogResponse struct {
	Features *[]siteFeature `json:"features"`
}

type siteFeature struct {
	Type       string          `json:"type"`
	Properties *siteProperties `json:"properties"`
	Geometry   *siteGeometry   `json:"geometry"`
}

type siteProperties struct {
	Feature     string     `json:"feature"`
	Total       *bool      `json:"total"`
	Name        *string    `json:"name"`
	Count       *int       `json:"count"`
	InstalledOn *string    `json:"installed_on"`
	OID         flexString `json:"oid"`
	Direction   *string    `json:"direction"`
}

type siteGeometry struct {
	Type        string    `json:"type"`
	Coordinates []*float64 `json:"coordinates"` // [lon, lat]
}

type countsResponse struct {
	X *[]string `json:"x"`
	Y *[]*int   `json:"y"`
}

// flexString accepts a JSON string or number; the catalog is not consistent
// about oid types.
type flexString struct {
	value string
	set   bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &f.value); err != nil {
			return err
		}
		f.set = true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	f.value = n.String()
	f.set = true
	return nil
}

var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseDate returns the calendar date at UTC midnight.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseSites(data []byte) ([]models.Site, error) {
	var resp siteCatalogResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Features == nil {
		return nil, errors.New("missing features")
	}

	sites := make([]models.Site, 0, len(*resp.Features))
	for i, f := range *resp.Features {
		site, err := f.toSite()
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func (f *siteFeature) toSite() (models.Site, error) {
	p := f.Properties
	if p == nil {
		return models.Site{}, errors.New("missing properties")
	}
	if !p.OID.set || p.OID.value == "" {
		return models.Site{}, errors.New("missing oid")
	}
	if p.Name == nil {
		return models.Site{}, fmt.Errorf("site %s: missing name", p.OID.value)
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) != 2 {
		return models.Site{}, fmt.Errorf("site %s: coordinates must be a [lon, lat] pair", p.OID.value)
	}
	for i, c := range f.Geometry.Coordinates {
		if c == nil {
			return models.Site{}, fmt.Errorf("site %s: coordinates[%d]: null", p.OID.value, i)
		}
	}

	site := models.Site{
		OID:     p.OID.value,
		Name:    *p.Name,
		Feature: p.Feature,
		Coordinates: models.Coordinates{
			X: *f.Geometry.Coordinates[0],
			Y: *f.Geometry.Coordinates[1],
		},
	}
	if p.Total != nil {
		site.Total = *p.Total
	}
	if p.Count != nil {
		site.Count = *p.Count
	}
	if p.InstalledOn != nil {
		installed, err := parseDate(*p.InstalledOn)
		if err != nil {
			return models.Site{}, fmt.Errorf("site %s: installed_on: %w", site.OID, err)
		}
		site.InstalledOn = &installed
	}
	if p.Direction != nil {
		dir := models.Direction(*p.Direction)
		if !dir.Valid() {
			return models.Site{}, fmt.Errorf("site %s: unknown direction %q", site.OID, *p.Direction)
		}
		site.Direction = dir
	}
	return site, nil
}

func parseCounts(data []byte) (*models.CountSeries, error) {
	var resp countsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.X == nil {
		return nil, errors.New("missing x (dates)")
	}
	if resp.Y == nil {
		return nil, errors.New("missing y (values)")
	}

	dates := make([]time.Time, 0, len(*resp.X))
	for i, raw := range *resp.X {
		d, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("x[%d]: %w", i, err)
		}
		dates = append(dates, d)
	}

	values := make([]int, 0, len(*resp.Y))
	for i, v := range *resp.Y {
		if v == nil {
			return nil, fmt.Errorf("y[%d]: null", i)
		}
		values = append(values, *v)
	}

	return &models.CountSeries{Dates: dates, Values: values}, nil
}
