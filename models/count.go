package models

import "time"

const DateLayout = "2006-01-02"

// CountObservation is one day's count for a site
type CountObservation struct {
	Site  string    `json:"site" db:"site"`
	Date  time.Time `json:"date" db:"date"`
	Value int       `json:"value" db:"value"`
}

// CountSeries is the raw per-site response: parallel date and value arrays.
type CountSeries struct {
	Dates  []time.Time
	Values []int
}

// Mismatched reports whether the two arrays differ in length.
func (c *CountSeries) Mismatched() bool {
	return len(c.Dates) != len(c.Values)
}

// Observations pairs dates with values by position. Extra entries on the
// longer side are dropped.
func (c *CountSeries) Observations(site string) []CountObservation {
	n := len(c.Dates)
	if len(c.Values) < n {
		n = len(c.Values)
	}

	obs := make([]CountObservation, 0, n)
	for i := 0; i < n; i++ {
		obs = append(obs, CountObservation{
			Site:  site,
			Date:  c.Dates[i],
			Value: c.Values[i],
		})
	}
	return obs
}

// ExportRow is one row of the joined extract written to the export file.
type ExportRow struct {
	Site  string    `json:"site"`
	Date  time.Time `json:"date"`
	Value int       `json:"value"`
	Name  string    `json:"name"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
}
