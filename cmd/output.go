package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	runid "github.com/JakeFAU/madara-crawler/internal/id/uuid"
	"github.com/JakeFAU/madara-crawler/internal/progress"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, crawler.Invalid(name, fmt.Sprintf("must be a positive integer, got %q", raw))
	}
	return id, nil
}

// withRun tags ctx with a fresh run ID so journal entries written by a CLI
// invocation group together.
func withRun(ctx context.Context) context.Context {
	return progress.WithRunID(ctx, runid.NewRunID())
}
