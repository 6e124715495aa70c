package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/clipbridge/internal/controller"
)

func TestFormatSearchResults_Empty(t *testing.T) {
	got := FormatSearchResults("a red car", SearchImagesOutput{Threshold: 0.25, TopK: 5})

	assert.Equal(t, `No images matched "a red car" above threshold 0.25`, got)
}

func TestFormatSearchResults_ListsInRankOrder(t *testing.T) {
	out := SearchImagesOutput{
		TopK:      2,
		Threshold: 0.1,
		Cached:    true,
		Results: []ImageResult{
			{Rank: 1, ID: "/photos/b.png", MIMEType: "image/png"},
			{Rank: 2, ID: "/photos/a.jpg", MIMEType: "image/jpeg"},
		},
	}

	got := FormatSearchResults("beach", out)

	assert.Contains(t, got, "Found 2 images (top_k 2, threshold 0.10, cached)")
	assert.Contains(t, got, "1. `/photos/b.png` (image/png)\n2. `/photos/a.jpg` (image/jpeg)\n")
}

func TestFormatBuildStatus(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name  string
		build controller.BuildStatus
		want  string
	}{
		{"never started", controller.BuildStatus{}, "No index build has been started."},
		{"running with total", controller.BuildStatus{Running: true, SourceDir: "/p", Processed: 1, Total: 4}, "Indexing /p: 1/4 images (25%)"},
		{"running without total", controller.BuildStatus{Running: true, SourceDir: "/p", Processed: 3}, "Indexing /p: 3 images processed"},
		{"succeeded", controller.BuildStatus{SourceDir: "/p", IndexPath: "/i.pt", Processed: 4, Total: 4, Success: &yes}, "Indexed 4 images from /p into /i.pt"},
		{"failed", controller.BuildStatus{SourceDir: "/p", Processed: 1, Total: 4, Success: &no, Error: "crashed"}, "Indexing /p failed after 1/4 images: crashed"},
		{"killed", controller.BuildStatus{SourceDir: "/p", Processed: 2, Total: 4, Success: &no}, "Indexing /p stopped after 2/4 images"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBuildStatus(tt.build))
		})
	}
}

func TestMimeTypeForPath(t *testing.T) {
	assert.Equal(t, "image/png", MimeTypeForPath("a.PNG"))
	assert.Equal(t, "image/jpeg", MimeTypeForPath("/x/y.jpeg"))
	assert.Equal(t, "application/octet-stream", MimeTypeForPath("notes.txt"))
}

func TestImageURI(t *testing.T) {
	assert.Equal(t, "file:///photos/a.png", imageURI("/photos/a.png"))
	assert.Equal(t, "a.png", imageURI("a.png"))
}
