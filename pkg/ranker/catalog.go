// Package ranker maintains the model intelligence catalog: it merges
// benchmark feeds into enriched catalog entries, scores them per category,
// and answers pick/recommend/decompose/swarm queries for the planner.
package ranker

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/troupe-ai/troupe/pkg/models"
	"github.com/troupe-ai/troupe/pkg/ranker/sources"
)

// catalog is one immutable refresh product. Readers take the whole value;
// a refresh builds a replacement and swaps the pointer, so entries are
// never mutated after publication.
type catalog struct {
	// Models is keyed by canonical id (provider/model).
	Models map[string]*models.EnrichedModel

	// Params are the per-benchmark normalization parameters computed over
	// this catalog, kept for selection-time z-score boosts.
	Params map[string]BenchmarkStats

	FetchedAt time.Time

	// Sources records each feed's last refresh outcome.
	Sources map[string]models.SourceState

	// SourceRows caches each auxiliary feed's last good rows so a failed
	// fetch can re-merge stale data instead of dropping it.
	SourceRows map[string][]sources.Row
}

func emptyCatalog() *catalog {
	return &catalog{
		Models:     map[string]*models.EnrichedModel{},
		Params:     map[string]BenchmarkStats{},
		Sources:    map[string]models.SourceState{},
		SourceRows: map[string][]sources.Row{},
	}
}

// snapshotPayload is the durable serialization of a catalog. Models are
// stored as a slice sorted by id so payloads diff cleanly.
type snapshotPayload struct {
	Models     []*models.EnrichedModel       `json:"models"`
	Params     map[string]BenchmarkStats     `json:"params"`
	FetchedAt  time.Time                     `json:"fetchedAt"`
	Sources    map[string]models.SourceState `json:"sources"`
	SourceRows map[string][]sources.Row      `json:"sourceRows,omitempty"`
}

func encodeCatalog(c *catalog) ([]byte, error) {
	payload := snapshotPayload{
		Models:     make([]*models.EnrichedModel, 0, len(c.Models)),
		Params:     c.Params,
		FetchedAt:  c.FetchedAt,
		Sources:    c.Sources,
		SourceRows: c.SourceRows,
	}
	for _, m := range c.Models {
		payload.Models = append(payload.Models, m)
	}
	sort.Slice(payload.Models, func(i, j int) bool {
		return payload.Models[i].ID < payload.Models[j].ID
	})

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog snapshot: %w", err)
	}
	return data, nil
}

func decodeCatalog(data []byte) (*catalog, error) {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode catalog snapshot: %w", err)
	}

	c := emptyCatalog()
	c.FetchedAt = payload.FetchedAt
	for _, m := range payload.Models {
		if m != nil && m.ID != "" {
			c.Models[m.ID] = m
		}
	}
	if payload.Params != nil {
		c.Params = payload.Params
	}
	if payload.Sources != nil {
		c.Sources = payload.Sources
	}
	if payload.SourceRows != nil {
		c.SourceRows = payload.SourceRows
	}
	return c, nil
}
