package model

// EncodeProfile holds the resolved transcoding parameters for one session.
// It is computed once at stream start and persisted alongside the session row.
type EncodeProfile struct {
	VideoCodec   string `json:"videoCodec"`
	AudioCodec   string `json:"audioCodec"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int    `json:"videoBitrate"` // kbps
	AudioBitrate int    `json:"audioBitrate"` // kbps
	SegmentTime  int    `json:"segmentTime"`  // seconds
	WindowSize   int    `json:"windowSize"`   // segments kept in the rolling playlist
}

// ClientCapabilities carries the constraints a player declares at stream start.
type ClientCapabilities struct {
	MaxResolution int   `json:"maxResolution,omitempty"` // Maximum vertical resolution the client accepts
	Bandwidth     int64 `json:"bandwidth,omitempty"`     // Available bandwidth in bits per second
}
