package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	statusURI     = "clipbridge://status"
	queryStatsURI = "clipbridge://query_stats"

	// statsWindow is how far back the query_stats resource looks.
	statsWindow = 7 * 24 * time.Hour
	statsLimit  = 10
)

// QueryStatsOutput is the JSON structure for the query_stats resource.
type QueryStatsOutput struct {
	TimePeriod          string           `json:"time_period"`
	TotalQueries        int64            `json:"total_queries"`
	FailedQueries       int64            `json:"failed_queries"`
	CachedQueries       int64            `json:"cached_queries"`
	ZeroResultPct       float64          `json:"zero_result_pct"`
	TopTerms            []QueryTermCount `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerResources registers the status resource and, with telemetry,
// the query_stats resource.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         statusURI,
			Description: "Search session and index build status",
			MIMEType:    "application/json",
		},
		s.handleStatusResource,
	)

	if s.stats != nil {
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        "query_stats",
				URI:         queryStatsURI,
				Description: "Recent prompt patterns, zero-result prompts and latency",
				MIMEType:    "application/json",
			},
			s.handleQueryStatsResource,
		)
	}
}

func (s *Server) handleStatusResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(statusURI, s.status())
}

func (s *Server) handleQueryStatsResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.stats == nil {
		return nil, NewResourceNotFoundError(queryStatsURI)
	}

	stats, err := s.stats.Stats(ctx, time.Now().Add(-statsWindow), statsLimit)
	if err != nil {
		return nil, MapError(err)
	}

	out := QueryStatsOutput{
		TimePeriod:          "7d",
		TotalQueries:        stats.TotalQueries,
		FailedQueries:       stats.FailedQueries,
		CachedQueries:       stats.CachedQueries,
		ZeroResultPct:       stats.ZeroResultPercentage(),
		TopTerms:            make([]QueryTermCount, 0, len(stats.TopTerms)),
		ZeroResultQueries:   stats.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(stats.LatencyDistribution)),
	}
	for _, tc := range stats.TopTerms {
		out.TopTerms = append(out.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range stats.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = count
	}
	return jsonResource(queryStatsURI, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
