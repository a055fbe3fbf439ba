package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by compare-and-swap writes whose version no longer matches.
	ErrConflict = errors.New("store: version conflict")
)

// Collection names a suggestion table.
type Collection string

const (
	WordSuggestions    Collection = "word_suggestions"
	ExampleSuggestions Collection = "example_suggestions"
	CorpusSuggestions  Collection = "corpus_suggestions"
)

func (c Collection) Valid() bool {
	switch c {
	case WordSuggestions, ExampleSuggestions, CorpusSuggestions:
		return true
	default:
		return false
	}
}

// Origin records which channel a suggestion came from. Only community
// suggestions notify their author on merge.
type Origin string

const (
	OriginCommunity Origin = "community"
	OriginInternal  Origin = "internal"
)

// RelationKind selects the relationship list on a canonical word.
type RelationKind string

const (
	Synonyms RelationKind = "synonyms"
	Antonyms RelationKind = "antonyms"
)

func (k RelationKind) Valid() bool {
	return k == Synonyms || k == Antonyms
}

// KnownDialects lists the dialect codes a dialect variant may be keyed by.
var KnownDialects = map[string]string{
	"ABI": "Abịrịba",
	"AFI": "Afikpo",
	"BON": "Bonny",
	"ECH": "Echie",
	"EGB": "Egbema",
	"MBA": "Mbaise",
	"NGW": "Ngwa",
	"NSA": "Nsa",
	"OHU": "Ohuhu",
	"ONI": "Onitsha",
	"OWE": "Owerri",
	"UMU": "Umuahia",
}

func IsKnownDialect(code string) bool {
	_, ok := KnownDialects[code]
	return ok
}

type DefinitionGroup struct {
	WordClass   string   `json:"wordClass"`
	Definitions []string `json:"definitions"`
}

type Dialect struct {
	Word          string   `json:"word"`
	Pronunciation string   `json:"pronunciation"`
	Variations    []string `json:"variations"`
	Dialects      []string `json:"dialects"`
}

// Review is the review metadata every suggestion carries.
type Review struct {
	AuthorID         string    `json:"authorId"`
	AuthorEmail      string    `json:"authorEmail,omitempty"`
	Origin           Origin    `json:"origin"`
	EditorsNotes     string    `json:"editorsNotes,omitempty"`
	Approvals        []string  `json:"approvals"`
	Denials          []string  `json:"denials"`
	UserInteractions []string  `json:"userInteractions"`
	Merged           *string   `json:"merged"`
	MergedBy         *string   `json:"mergedBy"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (r Review) IsMerged() bool {
	return r.Merged != nil && *r.Merged != ""
}

// Ballot is the slice of a suggestion the review ledger reads and writes.
type Ballot struct {
	Collection       Collection
	ID               string
	Approvals        []string
	Denials          []string
	UserInteractions []string
	Merged           *string
	Version          int64
}

type WordSuggestion struct {
	ID             string             `json:"id"`
	OriginalWordID *string            `json:"originalWordId"`
	Word           string             `json:"word"`
	Definitions    []DefinitionGroup  `json:"definitions"`
	Pronunciation  string             `json:"pronunciation"`
	Dialects       map[string]Dialect `json:"dialects"`
	Variations     []string           `json:"variations"`
	Synonyms       []string           `json:"synonyms"`
	Antonyms       []string           `json:"antonyms"`
	Review
}

type Word struct {
	ID            string             `json:"id"`
	Word          string             `json:"word"`
	Definitions   []DefinitionGroup  `json:"definitions"`
	Pronunciation string             `json:"pronunciation"`
	Dialects      map[string]Dialect `json:"dialects"`
	Variations    []string           `json:"variations"`
	Synonyms      []string           `json:"synonyms"`
	Antonyms      []string           `json:"antonyms"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func (w Word) Relations(kind RelationKind) []string {
	if kind == Antonyms {
		return w.Antonyms
	}
	return w.Synonyms
}

type ExampleSuggestion struct {
	ID                   string   `json:"id"`
	OriginalExampleID    *string  `json:"originalExampleId"`
	Text                 string   `json:"text"`
	Translation          string   `json:"translation"`
	Meaning              string   `json:"meaning"`
	Pronunciation        string   `json:"pronunciation"`
	AssociatedWords      []string `json:"associatedWords"`
	ExampleForSuggestion bool     `json:"exampleForSuggestion"`
	Review
}

type Example struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	Translation     string    `json:"translation"`
	Meaning         string    `json:"meaning"`
	Pronunciation   string    `json:"pronunciation"`
	AssociatedWords []string  `json:"associatedWords"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type CorpusSuggestion struct {
	ID               string  `json:"id"`
	OriginalCorpusID *string `json:"originalCorpusId"`
	Title            string  `json:"title"`
	Body             string  `json:"body"`
	Media            string  `json:"media"`
	Review
}

type Corpus struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Media     string    `json:"media"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MergeRecord is the append-only log of promotions.
type MergeRecord struct {
	ID           int64      `json:"id"`
	Collection   Collection `json:"collection"`
	SuggestionID string     `json:"suggestionId"`
	CanonicalID  string     `json:"canonicalId"`
	Created      bool       `json:"created"`
	MergedBy     string     `json:"mergedBy"`
	CommitHash   string     `json:"commitHash,omitempty"`
	MergedAt     time.Time  `json:"mergedAt"`
}

// MergedState filters suggestion listings.
type MergedState string

const (
	MergedAny MergedState = ""
	MergedNo  MergedState = "open"
	MergedYes MergedState = "merged"
)

type SuggestionFilter struct {
	Merged MergedState
	Since  *time.Time
	Limit  int
	Offset int
}

func (f SuggestionFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

func (f SuggestionFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}
