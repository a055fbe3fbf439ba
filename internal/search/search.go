package search

import (
	"context"
	"sort"
	"strings"

	"lexicon/api/internal/store"
)

// ResultType identifies the kind of canonical record in a search result.
type ResultType string

const (
	ResultWord    ResultType = "word"
	ResultExample ResultType = "example"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push canonical records into a search index.
type Indexer interface {
	IndexWords(words []WordRecord) error
	IndexExamples(examples []ExampleRecord) error
	DeleteWord(id string) error
	DeleteExample(id string) error
}

// WordRecord is the data we index for a canonical word.
type WordRecord struct {
	ID          string   `json:"id"`
	Word        string   `json:"word"`
	Definitions []string `json:"definitions"`
	WordClasses []string `json:"wordClasses"`
	Variations  []string `json:"variations"`
	Spellings   []string `json:"spellings"`
	Dialects    []string `json:"dialects"`
}

// ExampleRecord is the data we index for a canonical example sentence.
type ExampleRecord struct {
	ID              string   `json:"id"`
	Text            string   `json:"text"`
	Translation     string   `json:"translation"`
	AssociatedWords []string `json:"associatedWords"`
}

// NewWordRecord flattens a canonical word into its indexed form. Dialect
// spellings are searchable so a lookup by a regional form finds the headword.
func NewWordRecord(w store.Word) WordRecord {
	rec := WordRecord{
		ID:          w.ID,
		Word:        w.Word,
		Definitions: []string{},
		WordClasses: []string{},
		Variations:  append([]string{}, w.Variations...),
		Spellings:   []string{},
		Dialects:    []string{},
	}
	seenClass := map[string]bool{}
	for _, group := range w.Definitions {
		if group.WordClass != "" && !seenClass[group.WordClass] {
			seenClass[group.WordClass] = true
			rec.WordClasses = append(rec.WordClasses, group.WordClass)
		}
		for _, def := range group.Definitions {
			if strings.TrimSpace(def) != "" {
				rec.Definitions = append(rec.Definitions, def)
			}
		}
	}
	codes := make([]string, 0, len(w.Dialects))
	for code := range w.Dialects {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		rec.Dialects = append(rec.Dialects, code)
		if spelling := strings.TrimSpace(w.Dialects[code].Word); spelling != "" && spelling != w.Word {
			rec.Spellings = append(rec.Spellings, spelling)
		}
	}
	return rec
}

func NewExampleRecord(e store.Example) ExampleRecord {
	return ExampleRecord{
		ID:              e.ID,
		Text:            e.Text,
		Translation:     e.Translation,
		AssociatedWords: append([]string{}, e.AssociatedWords...),
	}
}

func (r WordRecord) snippet() string {
	if len(r.Definitions) == 0 {
		return ""
	}
	return r.Definitions[0]
}
