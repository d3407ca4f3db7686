// Package studyindex is a local stand-in for the study search service. It serves the same
// /search contract from an in-memory bleve index built from a JSON file of study records.
package studyindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"
	"github.com/mohammad-safakhou/omegarag/internal/logging"
	"github.com/mohammad-safakhou/omegarag/models"
	"go.uber.org/zap"
)

const (
	maxTopK      = 20
	defaultTopK  = 5
	defaultAlpha = 0.5
)

// ValidationError is a request the index refuses to run. It maps to 422.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// Record is one study as stored in the data file and returned in results.
type Record struct {
	PMID             models.FlexString `json:"PMID"`
	Title            string            `json:"title"`
	Abstract         string            `json:"abstract"`
	PublicationDate  string            `json:"publication_date"`
	Country          string            `json:"country"`
	Journal          string            `json:"journal"`
	DomainPrimary    string            `json:"domain_primary"`
	DomainSecondary  string            `json:"domain_secondary"`
	Population       string            `json:"trial_population"`
	MeasuredOutcomes models.Outcomes   `json:"measured_outcomes"`
	ObservedOutcomes models.Outcomes   `json:"observed_outcomes"`
	URL              string            `json:"url"`
}

// Hit is a Record with its distance; similarity repeats the distance for older clients.
type Hit struct {
	Record
	Distance   float64 `json:"__nn_distance"`
	Similarity float64 `json:"similarity"`
}

type Params struct {
	Queries    []string `json:"queries"`
	SearchType string   `json:"search_type"`
	TopK       *int     `json:"top_k"`
	Alpha      *float64 `json:"alpha"`
}

type Result struct {
	Results    []Hit `json:"results"`
	TotalFound int   `json:"total_found"`
}

// indexDoc is what bleve sees; every field lands in the default _all composite.
type indexDoc struct {
	Title     string `json:"title"`
	Abstract  string `json:"abstract"`
	Journal   string `json:"journal"`
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
	Outcomes  string `json:"outcomes"`
	Country   string `json:"country"`
}

type Index struct {
	idx     bleve.Index
	records map[string]Record
	logger  *zap.Logger
}

// LoadRecords reads a JSON array of study records.
func LoadRecords(path string) ([]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read studies: %w", err)
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode studies %s: %w", path, err)
	}
	return recs, nil
}

// New indexes recs in memory. Records without a PMID are skipped; later duplicates replace earlier ones.
func New(recs []Record, logger *zap.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	ix := &Index{idx: idx, records: make(map[string]Record, len(recs)), logger: logging.OrNop(logger).Named("studyindex")}

	batch := idx.NewBatch()
	for _, r := range recs {
		id := string(r.PMID)
		if id == "" {
			continue
		}
		ix.records[id] = r
		doc := indexDoc{
			Title:     r.Title,
			Abstract:  r.Abstract,
			Journal:   r.Journal,
			Domain:    r.DomainPrimary,
			Subdomain: r.DomainSecondary,
			Outcomes:  strings.Join(append(append([]string{r.Population}, r.MeasuredOutcomes...), r.ObservedOutcomes...), " "),
			Country:   r.Country,
		}
		if err := batch.Index(id, doc); err != nil {
			return nil, fmt.Errorf("index study %s: %w", id, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("index studies: %w", err)
	}
	ix.logger.Info("study index ready", zap.Int("studies", len(ix.records)))
	return ix, nil
}

func (ix *Index) Close() error { return ix.idx.Close() }

func (ix *Index) Len() int { return len(ix.records) }

// normalize applies defaults and the validation rules of the search contract.
func normalize(p Params) (queries []string, searchType models.SearchType, topK int, alpha float64, err error) {
	for _, q := range p.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, "", 0, 0, &ValidationError{Msg: "At least one non-empty query is required"}
	}

	searchType = models.SearchSemantic
	if p.SearchType != "" {
		if searchType, err = models.ParseSearchType(p.SearchType); err != nil {
			return nil, "", 0, 0, &ValidationError{Msg: fmt.Sprintf("Unsupported search type: %s", p.SearchType)}
		}
	}

	topK = defaultTopK
	if p.TopK != nil {
		topK = *p.TopK
	}
	if topK < 1 || topK > maxTopK {
		return nil, "", 0, 0, &ValidationError{Msg: fmt.Sprintf("top_k must be between 1 and %d", maxTopK)}
	}

	alpha = defaultAlpha
	if p.Alpha != nil {
		if searchType != models.SearchHybrid {
			return nil, "", 0, 0, &ValidationError{Msg: "alpha should only be provided for hybrid search"}
		}
		alpha = *p.Alpha
		if alpha < 0 || alpha > 1 {
			return nil, "", 0, 0, &ValidationError{Msg: "alpha must be between 0 and 1"}
		}
	}
	return queries, searchType, topK, alpha, nil
}

// candidates is how many hits are fetched before de-duplication: 1.5x top_k, capped at 20.
func candidates(topK int) int {
	return min(int(math.RoundToEven(float64(topK)*1.5)), maxTopK)
}

// Search runs p against the index. Semantic search is approximated with fuzzy matching and
// statistical search with exact term matching; hybrid blends both with weight alpha on the
// semantic side.
func (ix *Index) Search(ctx context.Context, p Params) (Result, error) {
	queries, searchType, topK, alpha, err := normalize(p)
	if err != nil {
		return Result{}, err
	}
	n := candidates(topK)

	var scored []scoredID
	switch searchType {
	case models.SearchSemantic:
		scored, err = ix.run(ctx, semanticQuery(queries), n)
	case models.SearchStatistical:
		scored, err = ix.run(ctx, statisticalQuery(queries), n)
	case models.SearchHybrid:
		scored, err = ix.hybrid(ctx, queries, n, alpha)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s search: %w", searchType, err)
	}

	res := Result{Results: []Hit{}}
	seen := make(map[string]bool, len(scored))
	maxScore := 0.0
	for _, s := range scored {
		maxScore = math.Max(maxScore, s.score)
	}
	for _, s := range scored {
		if seen[s.id] {
			continue
		}
		seen[s.id] = true
		rec, ok := ix.records[s.id]
		if !ok {
			continue
		}
		d := 1.0
		if maxScore > 0 {
			d = 1 - s.score/maxScore
		}
		res.Results = append(res.Results, Hit{Record: rec, Distance: d, Similarity: d})
		if len(res.Results) == topK {
			break
		}
	}
	res.TotalFound = len(res.Results)

	ix.logger.Debug("search completed",
		zap.Strings("queries", queries),
		zap.String("search_type", string(searchType)),
		zap.Int("top_k", topK),
		zap.Int("found", res.TotalFound))
	return res, nil
}

type scoredID struct {
	id    string
	score float64
}

func (ix *Index) run(ctx context.Context, q query.Query, n int) ([]scoredID, error) {
	req := bleve.NewSearchRequestOptions(q, n, 0, false)
	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]scoredID, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, scoredID{id: h.ID, score: h.Score})
	}
	return out, nil
}

func (ix *Index) hybrid(ctx context.Context, queries []string, n int, alpha float64) ([]scoredID, error) {
	sem, err := ix.run(ctx, semanticQuery(queries), n)
	if err != nil {
		return nil, err
	}
	stat, err := ix.run(ctx, statisticalQuery(queries), n)
	if err != nil {
		return nil, err
	}
	blended := map[string]float64{}
	for id, s := range normalized(sem) {
		blended[id] += alpha * s
	}
	for id, s := range normalized(stat) {
		blended[id] += (1 - alpha) * s
	}
	out := make([]scoredID, 0, len(blended))
	for id, s := range blended {
		out = append(out, scoredID{id: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// normalized scales scores into [0,1] relative to the best hit.
func normalized(hits []scoredID) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	top := hits[0].score
	for _, h := range hits {
		top = math.Max(top, h.score)
	}
	for _, h := range hits {
		if top > 0 {
			out[h.id] = h.score / top
		}
	}
	return out
}

func semanticQuery(queries []string) query.Query {
	qs := make([]query.Query, 0, len(queries))
	for _, text := range queries {
		m := bleve.NewMatchQuery(text)
		m.SetFuzziness(1)
		qs = append(qs, m)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func statisticalQuery(queries []string) query.Query {
	qs := make([]query.Query, 0, len(queries))
	for _, text := range queries {
		qs = append(qs, bleve.NewMatchQuery(text))
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
