package studyindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/mohammad-safakhou/omegarag/tools/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	recs, err := LoadRecords("testdata/studies.json")
	require.NoError(t, err)
	ix, err := New(recs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestNewSkipsRecordsWithoutID(t *testing.T) {
	assert.Equal(t, 4, newTestIndex(t).Len())
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, 2, candidates(1))
	assert.Equal(t, 8, candidates(5))
	assert.Equal(t, 18, candidates(12))
	assert.Equal(t, 20, candidates(20))
}

func TestSearchHonoursTopKAndDistance(t *testing.T) {
	ix := newTestIndex(t)

	res, err := ix.Search(context.Background(), Params{Queries: []string{"EPA dosage", "  "}, SearchType: "statistical", TopK: intp(2)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.LessOrEqual(t, len(res.Results), 2)
	assert.Equal(t, len(res.Results), res.TotalFound)
	assert.Equal(t, models.FlexString("12530552"), res.Results[0].PMID)
	assert.Zero(t, res.Results[0].Distance)
	assert.Equal(t, res.Results[0].Distance, res.Results[0].Similarity)

	seen := map[models.FlexString]bool{}
	for _, h := range res.Results {
		assert.False(t, seen[h.PMID], "duplicate %s", h.PMID)
		seen[h.PMID] = true
		assert.GreaterOrEqual(t, h.Distance, 0.0)
		assert.LessOrEqual(t, h.Distance, 1.0)
	}
}

func TestSearchHybridAndSemantic(t *testing.T) {
	ix := newTestIndex(t)

	res, err := ix.Search(context.Background(), Params{Queries: []string{"docosahexaenoic stress"}, SearchType: "hybrid", Alpha: floatp(0.65)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, models.FlexString("10419086"), res.Results[0].PMID)

	// fuzzy matching tolerates a one-letter typo
	res, err = ix.Search(context.Background(), Params{Queries: []string{"platelett"}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, models.FlexString("12530552"), res.Results[0].PMID)
}

func TestSearchValidation(t *testing.T) {
	ix := newTestIndex(t)

	cases := map[string]Params{
		"no queries":          {},
		"blank queries":       {Queries: []string{" ", ""}},
		"top_k too large":     {Queries: []string{"q"}, TopK: intp(21)},
		"top_k zero":          {Queries: []string{"q"}, TopK: intp(0)},
		"alpha on semantic":   {Queries: []string{"q"}, SearchType: "semantic", Alpha: floatp(0.3)},
		"alpha out of range":  {Queries: []string{"q"}, SearchType: "hybrid", Alpha: floatp(1.3)},
		"unknown search type": {Queries: []string{"q"}, SearchType: "vector"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ix.Search(context.Background(), p)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestServerSpeaksGatewayContract(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestIndex(t), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := search.NewClient(config.SearchConfig{BaseURL: srv.URL, ScoreConvention: "distance"}, nil, search.WithHTTPClient(srv.Client()))
	res, err := client.Search(context.Background(), models.SearchRequest{
		Queries: []string{"EPA dosage"}, SearchType: models.SearchStatistical, TopK: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "12530552", res.Results[0].Identifier)
	assert.InDelta(t, 1.0, res.Results[0].RelevanceScore, 1e-9)
	assert.Equal(t, len(res.Results), res.TotalFound)

	_, err = client.Search(context.Background(), models.SearchRequest{
		Queries: []string{"EPA"}, SearchType: models.SearchStatistical, TopK: 30,
	})
	var be *search.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnprocessableEntity, be.Status)
	assert.True(t, strings.Contains(be.Detail, "top_k"))
}
