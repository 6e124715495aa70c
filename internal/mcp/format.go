package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/clipbridge/internal/controller"
)

// FormatSearchResults formats ranked image identifiers as markdown.
func FormatSearchResults(prompt string, out SearchImagesOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No images matched \"%s\" above threshold %.2f", prompt, out.Threshold)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Images matching \"%s\"\n\n", prompt))
	sb.WriteString(fmt.Sprintf("Found %d image", len(out.Results)))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(fmt.Sprintf(" (top_k %d, threshold %.2f", out.TopK, out.Threshold))
	if out.Cached {
		sb.WriteString(", cached")
	}
	sb.WriteString(")\n\n")

	for _, r := range out.Results {
		sb.WriteString(fmt.Sprintf("%d. `%s` (%s)\n", r.Rank, r.ID, r.MIMEType))
	}
	return sb.String()
}

// FormatBuildStatus formats the latest build as a one-line summary.
func FormatBuildStatus(b controller.BuildStatus) string {
	switch {
	case b.SourceDir == "":
		return "No index build has been started."
	case b.Running && b.Total > 0:
		return fmt.Sprintf("Indexing %s: %d/%d images (%.0f%%)", b.SourceDir, b.Processed, b.Total, b.Fraction()*100)
	case b.Running:
		return fmt.Sprintf("Indexing %s: %d images processed", b.SourceDir, b.Processed)
	case b.Success != nil && *b.Success:
		return fmt.Sprintf("Indexed %d images from %s into %s", b.Processed, b.SourceDir, b.IndexPath)
	case b.Error != "":
		return fmt.Sprintf("Indexing %s failed after %d/%d images: %s", b.SourceDir, b.Processed, b.Total, b.Error)
	default:
		return fmt.Sprintf("Indexing %s stopped after %d/%d images", b.SourceDir, b.Processed, b.Total)
	}
}
