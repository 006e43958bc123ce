package models

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	DirectionUnknown Direction = ""
	DirectionBoth    Direction = "both"
	DirectionOne     Direction = "one"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionUnknown, DirectionBoth, DirectionOne:
		return true
	}
	return false
}

// Coordinates is a point in WGS84, X is longitude and Y latitude.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Site is one counter installation from the map feature catalog.
type Site struct {
	OID         string      `json:"oid" db:"oid"`
	Name        string      `json:"name" db:"name"`
	Feature     string      `json:"feature"`
	Total       bool        `json:"total"` // aggregate row, never downloaded
	Count       int         `json:"count"`
	InstalledOn *time.Time  `json:"installed_on,omitempty"`
	Direction   Direction   `json:"direction,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

// Info is the serialized form stored in sites.info.
func (s *Site) Info() (string, error) {
	props := struct {
		Feature     string    `json:"feature,omitempty"`
		Total       bool      `json:"total"`
		Name        string    `json:"name"`
		Count       int       `json:"count"`
		InstalledOn string    `json:"installed_on,omitempty"`
		OID         string    `json:"oid"`
		Direction   Direction `json:"direction,omitempty"`
	}{
		Feature:   s.Feature,
		Total:     s.Total,
		Name:      s.Name,
		Count:     s.Count,
		OID:       s.OID,
		Direction: s.Direction,
	}
	if s.InstalledOn != nil {
		props.InstalledOn = s.InstalledOn.Format(DateLayout)
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
