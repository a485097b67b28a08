package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"transhub/internal/model"
)

func groupIDs(items []model.ContentItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.TranslationID
	}
	return ids
}

func TestGroupByContext_SplitsByContextAndSourceLang(t *testing.T) {
	batch := []model.ContentItem{
		{TranslationID: 1, ContextHash: "ctx-a", SourceLang: ""},
		{TranslationID: 2, ContextHash: "ctx-a", SourceLang: "de"},
		{TranslationID: 3, ContextHash: "ctx-b", SourceLang: "de"},
		{TranslationID: 4, ContextHash: "ctx-a", SourceLang: ""},
	}

	groups := groupByContext(batch)
	require.Len(t, groups, 3)
	require.Equal(t, []int64{1, 4}, groupIDs(groups[0]))
	require.Equal(t, []int64{2}, groupIDs(groups[1]))
	require.Equal(t, []int64{3}, groupIDs(groups[2]))

	// Every group is homogeneous in both dimensions.
	for _, group := range groups {
		for _, item := range group[1:] {
			require.Equal(t, group[0].ContextHash, item.ContextHash)
			require.Equal(t, group[0].SourceLang, item.SourceLang)
		}
	}
}

func TestGroupByContext_Empty(t *testing.T) {
	require.Empty(t, groupByContext(nil))
}
