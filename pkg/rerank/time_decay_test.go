package rerank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragpatterns/pkg/store/milvus"
)

func resultAt(score float32, ts time.Time) milvus.SearchResult {
	return milvus.SearchResult{Score: score, Payload: milvus.Payload{TimestampMS: ts.UnixMilli()}}
}

func TestRerank_OlderMatchGetsLowerFinalScoreAtEqualSimilarity(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	results := []milvus.SearchResult{
		resultAt(0.9, now.Add(-48*time.Hour)),
		resultAt(0.9, now.Add(-1*time.Hour)),
	}

	ranked := NewReranker(DefaultTimeDecayConfig()).Rerank(results, now)

	require.Len(t, ranked, 2)
	// Recent one should rank first despite identical raw similarity.
	assert.Greater(t, ranked[0].TimeWeight, ranked[1].TimeWeight)
	assert.Greater(t, ranked[0].FinalScore, ranked[1].FinalScore)
}

func TestRerank_FutureTimestampClampsAgeToZero(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	results := []milvus.SearchResult{resultAt(0.8, now.Add(1*time.Hour))}

	ranked := NewReranker(DefaultTimeDecayConfig()).Rerank(results, now)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1.0, ranked[0].TimeWeight)
}

func TestRerank_PlaceholderMatchGetsPenalizedAtEqualAge(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	genuine := resultAt(0.9, now.Add(-1*time.Hour))
	placeholder := resultAt(0.9, now.Add(-1*time.Hour))
	placeholder.Payload.OIIsPlaceholder = true

	ranked := NewReranker(DefaultTimeDecayConfig()).Rerank([]milvus.SearchResult{genuine, placeholder}, now)

	require.Len(t, ranked, 2)
	assert.Greater(t, ranked[0].FinalScore, ranked[1].FinalScore)
	assert.True(t, ranked[1].Payload.OIIsPlaceholder)
}

func TestSegmentWeight_BucketsByAge(t *testing.T) {
	r := NewReranker(SegmentConfig())
	assert.Equal(t, r.config.RecentWeight, r.segmentWeight(1))
	assert.Equal(t, r.config.MediumWeight, r.segmentWeight(10))
	assert.Equal(t, r.config.OldWeight, r.segmentWeight(100))
}

func TestTopN_TruncatesToRequestedSize(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	results := []milvus.SearchResult{
		resultAt(0.9, now.Add(-1*time.Hour)),
		resultAt(0.8, now.Add(-2*time.Hour)),
		resultAt(0.7, now.Add(-3*time.Hour)),
	}
	ranked := NewReranker(DefaultTimeDecayConfig()).TopN(results, now, 2)
	assert.Len(t, ranked, 2)
}

func TestTopN_ReturnsAllWhenFewerThanN(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	results := []milvus.SearchResult{resultAt(0.9, now)}
	ranked := NewReranker(DefaultTimeDecayConfig()).TopN(results, now, 5)
	assert.Len(t, ranked, 1)
}

func TestFilterByMinScore_DropsResultsBelowThreshold(t *testing.T) {
	ranked := []RankedResult{
		{FinalScore: 0.9}, {FinalScore: 0.4}, {FinalScore: 0.6},
	}
	filtered := FilterByMinScore(ranked, 0.5)
	assert.Len(t, filtered, 2)
}
