package model

import "time"

// MediaType classifies what a library contains.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeMusic MediaType = "music"
)

// Library represents one watched media directory.
type Library struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"` // Absolute root path of the library
	MediaType  MediaType  `json:"mediaType"`
	Enabled    bool       `json:"enabled"`
	LastScanAt *time.Time `json:"lastScanAt,omitempty"` // Set only by the scanner
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
