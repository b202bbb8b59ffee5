package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazeguide/pkg/model"
)

func testIndex() *Index {
	return NewIndex(DefaultCatalogue())
}

func TestLookupExact(t *testing.T) {
	idx := testIndex()
	loc := idx.Lookup("東京")
	require.NotNil(t, loc)
	assert.Equal(t, "東京", loc.Name)
	assert.True(t, loc.HasCoords)
}

func TestLookupKanaResolvesSameLocation(t *testing.T) {
	idx := testIndex()
	byName := idx.Lookup("東京")
	byKana := idx.Lookup("とうきょう")
	require.NotNil(t, byName)
	require.NotNil(t, byKana)
	assert.Same(t, byName, byKana)
}

func TestLookupNormalized(t *testing.T) {
	idx := NewIndex([]model.Location{
		{Name: "Tokyo", Lat: 35.68, Lon: 139.65},
	})
	// Full-width and mixed case normalize to the same key.
	loc := idx.Lookup("ＴＯＫＹＯ")
	require.NotNil(t, loc)
	assert.Equal(t, "Tokyo", loc.Name)
}

func TestLookupPrefixShortestWins(t *testing.T) {
	idx := NewIndex([]model.Location{
		{Name: "長野", Kana: "ながの", Lat: 36.65, Lon: 138.18},
		{Name: "長野原", Kana: "ながのはら", Lat: 36.55, Lon: 138.64},
	})
	loc := idx.Lookup("長")
	require.NotNil(t, loc)
	assert.Equal(t, "長野", loc.Name)
}

func TestLookupFuzzyWithinBudget(t *testing.T) {
	idx := NewIndex([]model.Location{
		{Name: "Sapporo", Lat: 43.06, Lon: 141.35},
		{Name: "Sendai", Lat: 38.27, Lon: 140.87},
	})
	// One substitution within max(1, 7/3)=2.
	loc := idx.Lookup("sapporq")
	require.NotNil(t, loc)
	assert.Equal(t, "Sapporo", loc.Name)
}

func TestLookupMissReturnsNil(t *testing.T) {
	idx := testIndex()
	assert.Nil(t, idx.Lookup("zzzzzzzzzzzz"))
	assert.Nil(t, idx.Lookup(""))
	assert.Nil(t, idx.Lookup("   "))
}

func TestSearchFilters(t *testing.T) {
	idx := testIndex()

	kanto := idx.Search("", Filters{Region: "関東"}, false, 0)
	require.NotEmpty(t, kanto)
	for _, loc := range kanto {
		assert.Equal(t, "関東", loc.Region)
	}

	limited := idx.Search("", Filters{}, false, 3)
	assert.Len(t, limited, 3)
}

func TestNearbySortedByDistance(t *testing.T) {
	idx := testIndex()
	tokyo := idx.Lookup("東京")
	require.NotNil(t, tokyo)

	got := idx.Nearby(tokyo, 500, 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "横浜", got[0].Name, "Yokohama is the closest catalogue entry to Tokyo")
	for _, loc := range got {
		assert.NotSame(t, tokyo, loc)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "tokyo", Normalize("  ＴＯＫＹＯ "))
	assert.Equal(t, "東京", Normalize("東京"))
}
