package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownSearchType is returned when a search type outside the supported set is parsed.
var ErrUnknownSearchType = errors.New("unknown search type")

// ErrUnknownQueryMode is returned when a query mode outside the supported set is parsed.
var ErrUnknownQueryMode = errors.New("unknown query mode")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is a single conversation turn as held by the client.
// OriginalMessage carries the user's text before any context augmentation.
type ChatMessage struct {
	Role            Role   `json:"role"`
	Content         string `json:"content"`
	OriginalMessage string `json:"originalMessage,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts the browser client's shape, which names the role "type".
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role            Role   `json:"role"`
		Type            Role   `json:"type"`
		Content         string `json:"content"`
		OriginalMessage string      `json:"originalMessage"`
		Timestamp       json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := WholeNumber(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	m.Role = raw.Role
	if m.Role == "" {
		m.Role = raw.Type
	}
	m.Content = raw.Content
	m.OriginalMessage = raw.OriginalMessage
	m.Timestamp = ts
	return nil
}

// QueryText is the text used for retrieval: the original message when present.
func (m ChatMessage) QueryText() string {
	if strings.TrimSpace(m.OriginalMessage) != "" {
		return m.OriginalMessage
	}
	return m.Content
}

type SearchType string

const (
	SearchSemantic    SearchType = "semantic"
	SearchStatistical SearchType = "statistical"
	SearchHybrid      SearchType = "hybrid"
)

func ParseSearchType(s string) (SearchType, error) {
	switch t := SearchType(strings.ToLower(strings.TrimSpace(s))); t {
	case SearchSemantic, SearchStatistical, SearchHybrid:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSearchType, s)
	}
}

type QueryMode string

const (
	QueryModeLast QueryMode = "last"
	QueryModeAll  QueryMode = "all"
)

func ParseQueryMode(s string) (QueryMode, error) {
	switch m := QueryMode(strings.ToLower(strings.TrimSpace(s))); m {
	case QueryModeLast, QueryModeAll:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownQueryMode, s)
	}
}

// SearchParams are the retrieval controls a chat client sends with each message.
type SearchParams struct {
	SearchType SearchType `json:"search_type,omitempty"`
	QueryMode  QueryMode  `json:"query_mode,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	Alpha      *float64   `json:"alpha,omitempty"`
}

// UnmarshalJSON accepts an integral top_k written as a float, e.g. 5.0.
func (p *SearchParams) UnmarshalJSON(data []byte) error {
	type plain SearchParams
	var raw struct {
		plain
		TopK json.Number `json:"top_k"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	topK, err := WholeNumber(raw.TopK)
	if err != nil {
		return fmt.Errorf("top_k: %w", err)
	}
	*p = SearchParams(raw.plain)
	p.TopK = int(topK)
	return nil
}

// WholeNumber converts a JSON number with no fractional part; 5 and 5.0 both give 5.
// An empty number is zero.
func WholeNumber(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%s is not a whole number", n)
	}
	return int64(f), nil
}

// SearchRequest is what the search gateway sends to the retrieval backend.
// BlendWeight is only meaningful for hybrid searches.
type SearchRequest struct {
	Queries     []string
	SearchType  SearchType
	TopK        int
	BlendWeight *float64
}

// Outcomes is a list of outcome labels. The backend sends either a delimited string or an array.
type Outcomes []string

func (o *Outcomes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*o = cleanOutcomes(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("outcomes must be a string or a list of strings: %w", err)
	}
	*o = SplitOutcomes(s)
	return nil
}

// SplitOutcomes splits a delimited outcome string on semicolons and newlines.
func SplitOutcomes(s string) Outcomes {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	return cleanOutcomes(parts)
}

func cleanOutcomes(in []string) Outcomes {
	var out Outcomes
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (o Outcomes) String() string { return strings.Join(o, "; ") }

// FlexString decodes identifiers that may be sent either as JSON strings or numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// Source is one retrieved study record. RelevanceScore is canonical: higher is better.
type Source struct {
	Identifier       string   `json:"PMID"`
	Title            string   `json:"title"`
	Abstract         string   `json:"abstract,omitempty"`
	Journal          string   `json:"journal,omitempty"`
	PublicationDate  string   `json:"publication_date,omitempty"`
	Country          string   `json:"country,omitempty"`
	DomainPrimary    string   `json:"domain_primary,omitempty"`
	DomainSecondary  string   `json:"domain_secondary,omitempty"`
	Population       string   `json:"trial_population,omitempty"`
	MeasuredOutcomes Outcomes `json:"measured_outcomes,omitempty"`
	ObservedOutcomes Outcomes `json:"observed_outcomes,omitempty"`
	RelevanceScore   float64  `json:"relevance_score"`
	SourceURL        string   `json:"url,omitempty"`
}

type SearchResult struct {
	Results    []Source `json:"results"`
	TotalFound int      `json:"total"`
}

type ChatResponse struct {
	Answer  string   `json:"response"`
	Sources []Source `json:"sources"`
}
