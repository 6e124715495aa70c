package mcp

import "github.com/Aman-CERP/clipbridge/internal/controller"

// SearchImagesInput defines the input schema for the search_images tool.
type SearchImagesInput struct {
	Prompt    string   `json:"prompt" jsonschema:"natural language description of the images to find"`
	TopK      int      `json:"top_k,omitempty" jsonschema:"maximum number of images to return, default from config"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"minimum similarity in [0,1] for this search; defaults to the session threshold"`
}

// SearchImagesOutput defines the output schema for the search_images tool.
type SearchImagesOutput struct {
	Results   []ImageResult `json:"results" jsonschema:"images in rank order, best first"`
	TopK      int           `json:"top_k"`
	Threshold float64       `json:"threshold"`
	Cached    bool          `json:"cached"`
}

// ImageResult is one ranked image.
type ImageResult struct {
	Rank     int    `json:"rank"`
	ID       string `json:"id" jsonschema:"image identifier as reported by clip_tool"`
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
}

// IndexImagesInput defines the input schema for the index_images tool.
type IndexImagesInput struct {
	Directory string `json:"directory" jsonschema:"folder whose images should be indexed (top level only)"`
	Wait      bool   `json:"wait,omitempty" jsonschema:"block until the build finishes"`
}

// IndexImagesOutput defines the output schema for the index_images tool.
type IndexImagesOutput struct {
	Started bool                   `json:"started"`
	PID     int                    `json:"pid,omitempty"`
	Build   controller.BuildStatus `json:"build"`
	Summary string                 `json:"summary"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Session   SessionInfo            `json:"session"`
	Build     controller.BuildStatus `json:"build"`
	Summary   string                 `json:"summary"`
	IndexPath string                 `json:"index_path"`
	Notices   []controller.Notice    `json:"notices,omitempty"`
}

// SessionInfo describes the search session.
type SessionInfo struct {
	State        string  `json:"state"`
	PID          int     `json:"pid,omitempty"`
	Threshold    float64 `json:"threshold"`
	TopK         int     `json:"top_k"`
	CacheEntries int     `json:"cache_entries"`
}
