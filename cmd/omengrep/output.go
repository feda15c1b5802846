package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dshills/omengrep/internal/indexer"
	"github.com/dshills/omengrep/internal/workspace"
	"github.com/dshills/omengrep/pkg/types"
)

// jsonResult is the machine readable shape of one search hit
type jsonResult struct {
	File      string          `json:"file"`
	Type      types.BlockKind `json:"type"`
	Name      string          `json:"name"`
	StartLine int             `json:"start_line"`
	EndLine   int             `json:"end_line"`
	Content   string          `json:"content"`
	Score     float64         `json:"score"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResultsJSON(w io.Writer, results []types.SearchResult) error {
	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		out = append(out, jsonResult{
			File:      r.Metadata.File,
			Type:      r.Metadata.Kind,
			Name:      r.Metadata.Name,
			StartLine: r.Metadata.StartLine,
			EndLine:   r.Metadata.EndLine,
			Content:   r.Text,
			Score:     r.Score,
		})
	}
	return writeJSON(w, out)
}

// writeResultsText prints one line per hit: file:line [kind] name (score)
func writeResultsText(w io.Writer, results []types.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s:%d [%s] %s (%.4f)\n",
			r.Metadata.File, r.Metadata.StartLine, r.Metadata.Kind, r.Metadata.Name, r.Score)
	}
}

func writeSummaryText(w io.Writer, s *indexer.Summary) {
	verb := "Updated"
	if s.Rebuilt {
		verb = "Indexed"
	}
	fmt.Fprintf(w, "%s %s in %s\n", verb, s.Root, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  files: %d scanned, %d added, %d modified, %d removed, %d unchanged\n",
		s.FilesScanned, s.Added, s.Modified, s.Removed, s.Unchanged)
	fmt.Fprintf(w, "  blocks: %d upserted, %d retracted, %d total\n",
		s.BlocksUpserted, s.BlocksRetracted, s.TotalBlocks)
	if s.FilesSkipped > 0 || s.FilesFailed > 0 {
		fmt.Fprintf(w, "  skipped: %d, failed: %d\n", s.FilesSkipped, s.FilesFailed)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func writeStatusText(w io.Writer, st *workspace.Status) {
	fmt.Fprintf(w, "Root:      %s\n", st.Root)
	fmt.Fprintf(w, "Index:     %s\n", st.IndexDir)
	if st.Problem != "" {
		fmt.Fprintf(w, "Status:    unreadable (%s)\n", st.Problem)
		return
	}
	if !st.Indexed {
		fmt.Fprintln(w, "Status:    not indexed")
		return
	}
	state := "ready"
	if st.Stale {
		state = "stale (model changed, next build re-embeds everything)"
	}
	fmt.Fprintf(w, "Status:    %s\n", state)
	fmt.Fprintf(w, "Model:     %s\n", st.ModelVersion)
	fmt.Fprintf(w, "Files:     %d\n", st.Files)
	fmt.Fprintf(w, "Blocks:    %d\n", st.Blocks)
	if st.BuildID != "" {
		fmt.Fprintf(w, "Build:     %s\n", st.BuildID)
	}
	if !st.LastBuild.IsZero() {
		fmt.Fprintf(w, "Updated:   %s\n", st.LastBuild.Local().Format(time.RFC3339))
	}
}

// splitList accepts both repeated flags and comma separated values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
