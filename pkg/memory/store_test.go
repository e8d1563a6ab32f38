package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksByOverlap(t *testing.T) {
	s := NewStore()
	s.Add("pandas eat bamboo shoots", "facts")
	s.Add("bamboo grows quickly", "facts")
	s.Add("the stock market closed higher", "news")

	hits, err := s.Search(context.Background(), "what do pandas eat", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, "pandas eat bamboo shoots", hits[0].Text)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.NotContains(t, h.Text, "stock market")
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	s := NewStore()
	s.Add("bamboo forest", "a")
	s.Add("bamboo shoots", "b")
	s.Add("bamboo leaves", "c")

	hits, err := s.Search(context.Background(), "bamboo", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchNoMatch(t *testing.T) {
	s := NewStore()
	s.Add("pandas eat bamboo", "facts")

	hits, err := s.Search(context.Background(), "quantum entanglement", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSeededIdentity(t *testing.T) {
	s := Seeded()
	require.Greater(t, s.Len(), 0)

	hits, err := s.Search(context.Background(), "what is your name", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "PANDA")
}

func TestAddIgnoresEmpty(t *testing.T) {
	s := NewStore()
	s.Add("   ", "x")
	assert.Equal(t, 0, s.Len())
}

func TestSearchCancelledContext(t *testing.T) {
	s := Seeded()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, "name", 3)
	assert.Error(t, err)
}
