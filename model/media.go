package model

import "time"

// MediaItem represents a single catalogued file inside a library.
// Unique on (LibraryID, RelPath); created and updated only by the shared
// ingestion path so scan-driven and watch-driven updates obey the same rules.
type MediaItem struct {
	ID             int64     `json:"id"`
	LibraryID      int64     `json:"libraryId"`
	Title          string    `json:"title"`
	Path           string    `json:"-"`       // Absolute path, not exposed in API directly
	RelPath        string    `json:"relPath"` // Path relative to the library root
	Size           int64     `json:"size"`
	Duration       float64   `json:"duration"` // Duration in seconds
	VideoCodec     string    `json:"videoCodec,omitempty"`
	AudioCodec     string    `json:"audioCodec,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	ThumbnailPath  string    `json:"thumbnailPath,omitempty"` // Relative path, served via static server
	FileModifiedAt time.Time `json:"fileModifiedAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
