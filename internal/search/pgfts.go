package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"lexicon/api/internal/store"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// The expressions match the GIN indexes in 0001_init so the planner can use them.
const (
	wordVector    = "to_tsvector('simple', w.word || ' ' || w.definitions::text)"
	exampleVector = "to_tsvector('simple', e.text || ' ' || e.translation)"
	tsQuery       = "plainto_tsquery('simple', $1)"
)

// Search runs a UNION ALL over words and examples ranked by ts_rank. A
// headword prefix match also counts as a hit so partial lookups work.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	args := []any{q.Text}
	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultWord {
		args = append(args, escapeLike(strings.TrimSpace(q.Text))+"%")
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'word'::text AS type, w.id, w.word AS title,
				coalesce(w.definitions->0->'definitions'->>0, '') AS snippet,
				ts_rank(%s, %s) + CASE WHEN lower(w.word) LIKE lower($2) THEN 1 ELSE 0 END AS rank
			FROM words w
			WHERE %s @@ %s OR lower(w.word) LIKE lower($2)`,
			wordVector, tsQuery, wordVector, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultExample {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'example'::text AS type, e.id, e.text AS title,
				e.translation AS snippet,
				ts_rank(%s, %s) AS rank
			FROM examples e
			WHERE %s @@ %s`,
			exampleVector, tsQuery, exampleVector, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, title ASC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns every canonical word and example for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]WordRecord, []ExampleRecord, error) {
	wordRows, err := p.db.QueryContext(ctx, `
		SELECT id, word, definitions::text, variations::text, dialects::text
		FROM words
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load words: %w", err)
	}
	defer wordRows.Close()

	words := make([]WordRecord, 0)
	for wordRows.Next() {
		var w store.Word
		var definitions, variations, dialects string
		if err := wordRows.Scan(&w.ID, &w.Word, &definitions, &variations, &dialects); err != nil {
			return nil, nil, fmt.Errorf("scan word: %w", err)
		}
		if err := decodeColumns(
			column{definitions, &w.Definitions},
			column{variations, &w.Variations},
			column{dialects, &w.Dialects},
		); err != nil {
			return nil, nil, fmt.Errorf("decode word %s: %w", w.ID, err)
		}
		words = append(words, NewWordRecord(w))
	}
	if err := wordRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate words: %w", err)
	}

	exampleRows, err := p.db.QueryContext(ctx, `
		SELECT id, text, translation, associated_words::text
		FROM examples
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load examples: %w", err)
	}
	defer exampleRows.Close()

	examples := make([]ExampleRecord, 0)
	for exampleRows.Next() {
		var e store.Example
		var associated string
		if err := exampleRows.Scan(&e.ID, &e.Text, &e.Translation, &associated); err != nil {
			return nil, nil, fmt.Errorf("scan example: %w", err)
		}
		if err := decodeColumns(column{associated, &e.AssociatedWords}); err != nil {
			return nil, nil, fmt.Errorf("decode example %s: %w", e.ID, err)
		}
		examples = append(examples, NewExampleRecord(e))
	}
	if err := exampleRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate examples: %w", err)
	}

	return words, examples, nil
}

type column struct {
	raw  string
	dest any
}

func decodeColumns(cols ...column) error {
	for _, c := range cols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dest); err != nil {
			return err
		}
	}
	return nil
}
