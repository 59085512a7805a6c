package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeGraphEdges_HigherWeightWinsOnDuplicate(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	existing := []graphEdgeRecord{
		{Dst: "A", RelType: "r", Weight: 0.5, CreatedAt: now},
	}
	incoming := []InlineEdge{
		{Dst: "A", Rel: "r", Weight: 0.8},
		{Dst: "B", Rel: "r", Weight: 0.3},
	}

	merged := mergeGraphEdges(existing, incoming, now)
	require.Len(t, merged, 2)

	byDst := map[string]graphEdgeRecord{}
	for _, rec := range merged {
		byDst[rec.Dst] = rec
	}
	assert.Equal(t, 0.8, byDst["A"].Weight)
	assert.Equal(t, 0.3, byDst["B"].Weight)
}

func TestMergeGraphEdges_LowerIncomingWeightDoesNotOverwrite(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	existing := []graphEdgeRecord{
		{Dst: "A", RelType: "r", Weight: 0.9, CreatedAt: now},
	}
	incoming := []InlineEdge{
		{Dst: "A", Rel: "r", Weight: 0.1},
	}

	merged := mergeGraphEdges(existing, incoming, now)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.9, merged[0].Weight)
}

func TestMergeGraphEdges_DifferentRelTypeIsSeparateEdge(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	incoming := []InlineEdge{
		{Dst: "A", Rel: "r1", Weight: 0.4},
		{Dst: "A", Rel: "r2", Weight: 0.6},
	}

	merged := mergeGraphEdges(nil, incoming, now)
	require.Len(t, merged, 2)
}

func TestMergeGraphEdges_FoldsDstEntityTypeIntoProperties(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	incoming := []InlineEdge{
		{Dst: "A", Rel: "r", Weight: 0.5, DstEntityType: "files/resource"},
	}

	merged := mergeGraphEdges(nil, incoming, now)
	require.Len(t, merged, 1)
	assert.Equal(t, "files/resource", merged[0].Properties["dst_entity_type"])
}
