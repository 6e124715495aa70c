// Package protocol implements the line-oriented wire format spoken with clip_tool.
//
// clip_tool has two verbs:
//
//	clip_tool process <sourceDir> <indexPath>   one-shot build, emits __PROGRESS__:d/t lines
//	clip_tool search <indexPath>                long-running, one response line per request line
//
// Requests are "prompt||topK||threshold". Responses are a "|"-delimited list of
// relative image paths, or an empty line when nothing matched.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

const (
	// VerbProcess builds an index from a directory of images.
	VerbProcess = "process"
	// VerbSearch starts a resident query loop over an index.
	VerbSearch = "search"

	// FieldSeparator joins the request fields.
	FieldSeparator = "||"
	// ResultSeparator splits identifiers in a response line.
	ResultSeparator = "|"
	// ProgressPrefix marks a machine-readable progress line.
	ProgressPrefix = "__PROGRESS__:"
)

// ProcessArgs returns the argv (without the executable) for a build run.
func ProcessArgs(sourceDir, indexPath string) []string {
	return []string{VerbProcess, sourceDir, indexPath}
}

// SearchArgs returns the argv (without the executable) for a search session.
func SearchArgs(indexPath string) []string {
	return []string{VerbSearch, indexPath}
}

// NormalizeLine strips trailing whitespace, including a CR left by CRLF output.
func NormalizeLine(line string) string {
	return strings.TrimRight(line, " \t\r\n")
}

// FormatRequest renders one request line without the terminating newline.
// The threshold always uses '.' as decimal separator and the shortest exact form.
func FormatRequest(prompt string, topK int, threshold float64) (string, error) {
	if topK <= 0 {
		return "", cberrors.New(cberrors.ErrCodeInvalidInput,
			fmt.Sprintf("topK must be a positive integer, got %d", topK), nil).
			WithDetail("top_k", strconv.Itoa(topK))
	}
	prompt = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(prompt)
	if strings.Contains(prompt, FieldSeparator) {
		return "", cberrors.New(cberrors.ErrCodeInvalidInput,
			fmt.Sprintf("prompt must not contain %q", FieldSeparator), nil)
	}

	var sb strings.Builder
	sb.Grow(len(prompt) + 16)
	sb.WriteString(prompt)
	sb.WriteString(FieldSeparator)
	sb.WriteString(strconv.Itoa(topK))
	sb.WriteString(FieldSeparator)
	sb.WriteString(strconv.FormatFloat(threshold, 'f', -1, 64))
	return sb.String(), nil
}

// ParseResponse splits a response line into result identifiers in rank order.
// An empty line is a valid "no matches" answer and yields an empty, non-nil slice.
// There is no error form: anything else is split best-effort.
func ParseResponse(line string) []string {
	line = NormalizeLine(line)
	if line == "" {
		return []string{}
	}

	parts := strings.Split(line, ResultSeparator)
	results := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		results = append(results, p)
	}
	return results
}

// Progress is one parsed progress marker.
type Progress struct {
	Done  int
	Total int
}

// ParseProgress reports whether line is a progress marker and, if so, its counts.
// Diagnostic output and malformed markers return false.
func ParseProgress(line string) (Progress, bool) {
	line = NormalizeLine(line)
	rest, ok := strings.CutPrefix(line, ProgressPrefix)
	if !ok {
		return Progress{}, false
	}

	doneStr, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return Progress{}, false
	}
	done, ok := parseCount(doneStr)
	if !ok {
		return Progress{}, false
	}
	total, ok := parseCount(totalStr)
	if !ok || total == 0 {
		return Progress{}, false
	}
	return Progress{Done: done, Total: total}, true
}

// FormatProgress renders a progress marker. Used by test doubles of clip_tool.
func FormatProgress(done, total int) string {
	return fmt.Sprintf("%s%d/%d", ProgressPrefix, done, total)
}

// parseCount accepts plain decimal digits only, so "+3" and " 3" are rejected.
func parseCount(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
