package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const reviewColumns = `author_id, author_email, origin, editors_notes, approvals, denials, user_interactions, merged, merged_by, version, created_at, updated_at`

type reviewRow struct {
	origin       string
	approvals    []byte
	denials      []byte
	interactions []byte
	merged       sql.NullString
	mergedBy     sql.NullString
}

func (r *reviewRow) dest(review *Review) []any {
	return []any{
		&review.AuthorID,
		&review.AuthorEmail,
		&r.origin,
		&review.EditorsNotes,
		&r.approvals,
		&r.denials,
		&r.interactions,
		&r.merged,
		&r.mergedBy,
		&review.Version,
		&review.CreatedAt,
		&review.UpdatedAt,
	}
}

func (r *reviewRow) finish(review *Review) error {
	review.Origin = Origin(r.origin)
	review.Merged = nullableString(r.merged)
	review.MergedBy = nullableString(r.mergedBy)
	return decodeJSON(
		jsonField{r.approvals, &review.Approvals},
		jsonField{r.denials, &review.Denials},
		jsonField{r.interactions, &review.UserInteractions},
	)
}

func reviewArgs(review Review) []any {
	origin := review.Origin
	if origin == "" {
		origin = OriginCommunity
	}
	return []any{
		review.AuthorID,
		review.AuthorEmail,
		string(origin),
		review.EditorsNotes,
		encodeJSON(review.Approvals),
		encodeJSON(review.Denials),
		encodeJSON(review.UserInteractions),
	}
}

// =============================================================================
// Word suggestions
// =============================================================================

const wordSuggestionColumns = `id, original_word_id, word, definitions, pronunciation, dialects, variations, synonyms, antonyms, ` + reviewColumns

func scanWordSuggestion(row rowScanner) (WordSuggestion, error) {
	var item WordSuggestion
	var original sql.NullString
	var definitions, dialects, variations, synonyms, antonyms []byte
	var review reviewRow
	dest := append([]any{&item.ID, &original, &item.Word, &definitions, &item.Pronunciation, &dialects, &variations, &synonyms, &antonyms}, review.dest(&item.Review)...)
	if err := row.Scan(dest...); err != nil {
		return WordSuggestion{}, err
	}
	item.OriginalWordID = nullableString(original)
	if err := decodeJSON(
		jsonField{definitions, &item.Definitions},
		jsonField{dialects, &item.Dialects},
		jsonField{variations, &item.Variations},
		jsonField{synonyms, &item.Synonyms},
		jsonField{antonyms, &item.Antonyms},
	); err != nil {
		return WordSuggestion{}, err
	}
	return item, review.finish(&item.Review)
}

func (s *PostgresStore) InsertWordSuggestion(ctx context.Context, item WordSuggestion) error {
	args := append([]any{
		item.ID,
		item.OriginalWordID,
		item.Word,
		encodeJSON(item.Definitions),
		item.Pronunciation,
		encodeJSON(item.Dialects),
		encodeJSON(item.Variations),
		encodeJSON(item.Synonyms),
		encodeJSON(item.Antonyms),
	}, reviewArgs(item.Review)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO word_suggestions (id, original_word_id, word, definitions, pronunciation, dialects, variations, synonyms, antonyms,
			author_id, author_email, origin, editors_notes, approvals, denials, user_interactions, version)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb,
			$10, $11, $12, $13, $14::jsonb, $15::jsonb, $16::jsonb, 1)
	`, args...)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert word suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWordSuggestion(ctx context.Context, id string) (WordSuggestion, error) {
	item, err := scanWordSuggestion(s.db.QueryRowContext(ctx, `SELECT `+wordSuggestionColumns+` FROM word_suggestions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return WordSuggestion{}, ErrNotFound
	}
	if err != nil {
		return WordSuggestion{}, fmt.Errorf("get word suggestion: %w", err)
	}
	return item, nil
}

// UpdateWordSuggestion replaces the content fields and user interactions of an
// unmerged suggestion whose version still matches item.Version.
func (s *PostgresStore) UpdateWordSuggestion(ctx context.Context, item WordSuggestion) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE word_suggestions
		SET original_word_id=$2, word=$3, definitions=$4::jsonb, pronunciation=$5, dialects=$6::jsonb, variations=$7::jsonb,
			synonyms=$8::jsonb, antonyms=$9::jsonb, editors_notes=$10, user_interactions=$11::jsonb,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$12 AND merged IS NULL
	`,
		item.ID,
		item.OriginalWordID,
		item.Word,
		encodeJSON(item.Definitions),
		item.Pronunciation,
		encodeJSON(item.Dialects),
		encodeJSON(item.Variations),
		encodeJSON(item.Synonyms),
		encodeJSON(item.Antonyms),
		item.EditorsNotes,
		encodeJSON(item.UserInteractions),
		item.Version,
	)
	if err != nil {
		return fmt.Errorf("update word suggestion: %w", err)
	}
	return expectOneRow(result, "update word suggestion")
}

func (s *PostgresStore) ListWordSuggestions(ctx context.Context, filter SuggestionFilter) ([]WordSuggestion, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+wordSuggestionColumns+` FROM word_suggestions`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list word suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]WordSuggestion, 0)
	for rows.Next() {
		item, err := scanWordSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan word suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate word suggestions: %w", err)
	}
	return items, nil
}

// =============================================================================
// Example suggestions
// =============================================================================

const exampleSuggestionColumns = `id, original_example_id, text, translation, meaning, pronunciation, associated_words, example_for_suggestion, ` + reviewColumns

func scanExampleSuggestion(row rowScanner) (ExampleSuggestion, error) {
	var item ExampleSuggestion
	var original sql.NullString
	var associated []byte
	var review reviewRow
	dest := append([]any{&item.ID, &original, &item.Text, &item.Translation, &item.Meaning, &item.Pronunciation, &associated, &item.ExampleForSuggestion}, review.dest(&item.Review)...)
	if err := row.Scan(dest...); err != nil {
		return ExampleSuggestion{}, err
	}
	item.OriginalExampleID = nullableString(original)
	if err := decodeJSON(jsonField{associated, &item.AssociatedWords}); err != nil {
		return ExampleSuggestion{}, err
	}
	return item, review.finish(&item.Review)
}

func (s *PostgresStore) InsertExampleSuggestion(ctx context.Context, item ExampleSuggestion) error {
	args := append([]any{
		item.ID,
		item.OriginalExampleID,
		item.Text,
		item.Translation,
		item.Meaning,
		item.Pronunciation,
		encodeJSON(item.AssociatedWords),
		item.ExampleForSuggestion,
	}, reviewArgs(item.Review)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO example_suggestions (id, original_example_id, text, translation, meaning, pronunciation, associated_words, example_for_suggestion,
			author_id, author_email, origin, editors_notes, approvals, denials, user_interactions, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8,
			$9, $10, $11, $12, $13::jsonb, $14::jsonb, $15::jsonb, 1)
	`, args...)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert example suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExampleSuggestion(ctx context.Context, id string) (ExampleSuggestion, error) {
	item, err := scanExampleSuggestion(s.db.QueryRowContext(ctx, `SELECT `+exampleSuggestionColumns+` FROM example_suggestions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ExampleSuggestion{}, ErrNotFound
	}
	if err != nil {
		return ExampleSuggestion{}, fmt.Errorf("get example suggestion: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateExampleSuggestion(ctx context.Context, item ExampleSuggestion) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE example_suggestions
		SET original_example_id=$2, text=$3, translation=$4, meaning=$5, pronunciation=$6, associated_words=$7::jsonb,
			example_for_suggestion=$8, editors_notes=$9, user_interactions=$10::jsonb,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$11 AND merged IS NULL
	`,
		item.ID,
		item.OriginalExampleID,
		item.Text,
		item.Translation,
		item.Meaning,
		item.Pronunciation,
		encodeJSON(item.AssociatedWords),
		item.ExampleForSuggestion,
		item.EditorsNotes,
		encodeJSON(item.UserInteractions),
		item.Version,
	)
	if err != nil {
		return fmt.Errorf("update example suggestion: %w", err)
	}
	return expectOneRow(result, "update example suggestion")
}

func (s *PostgresStore) ListExampleSuggestions(ctx context.Context, filter SuggestionFilter) ([]ExampleSuggestion, error) {
	where, args := filterClause(filter)
	return s.queryExampleSuggestions(ctx, `SELECT `+exampleSuggestionColumns+` FROM example_suggestions`+where, args...)
}

// ListExampleSuggestionsByWord returns the example suggestions whose
// associated_words contain parentID, oldest first.
func (s *PostgresStore) ListExampleSuggestionsByWord(ctx context.Context, parentID string) ([]ExampleSuggestion, error) {
	return s.queryExampleSuggestions(ctx, `
		SELECT `+exampleSuggestionColumns+`
		FROM example_suggestions
		WHERE associated_words @> jsonb_build_array($1::text)
		ORDER BY created_at ASC, id ASC
	`, parentID)
}

func (s *PostgresStore) queryExampleSuggestions(ctx context.Context, query string, args ...any) ([]ExampleSuggestion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list example suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]ExampleSuggestion, 0)
	for rows.Next() {
		item, err := scanExampleSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan example suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate example suggestions: %w", err)
	}
	return items, nil
}

// =============================================================================
// Corpus suggestions
// =============================================================================

const corpusSuggestionColumns = `id, original_corpus_id, title, body, media, ` + reviewColumns

func scanCorpusSuggestion(row rowScanner) (CorpusSuggestion, error) {
	var item CorpusSuggestion
	var original sql.NullString
	var review reviewRow
	dest := append([]any{&item.ID, &original, &item.Title, &item.Body, &item.Media}, review.dest(&item.Review)...)
	if err := row.Scan(dest...); err != nil {
		return CorpusSuggestion{}, err
	}
	item.OriginalCorpusID = nullableString(original)
	return item, review.finish(&item.Review)
}

func (s *PostgresStore) InsertCorpusSuggestion(ctx context.Context, item CorpusSuggestion) error {
	args := append([]any{item.ID, item.OriginalCorpusID, item.Title, item.Body, item.Media}, reviewArgs(item.Review)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corpus_suggestions (id, original_corpus_id, title, body, media,
			author_id, author_email, origin, editors_notes, approvals, denials, user_interactions, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12::jsonb, 1)
	`, args...)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert corpus suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCorpusSuggestion(ctx context.Context, id string) (CorpusSuggestion, error) {
	item, err := scanCorpusSuggestion(s.db.QueryRowContext(ctx, `SELECT `+corpusSuggestionColumns+` FROM corpus_suggestions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CorpusSuggestion{}, ErrNotFound
	}
	if err != nil {
		return CorpusSuggestion{}, fmt.Errorf("get corpus suggestion: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateCorpusSuggestion(ctx context.Context, item CorpusSuggestion) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE corpus_suggestions
		SET original_corpus_id=$2, title=$3, body=$4, media=$5, editors_notes=$6, user_interactions=$7::jsonb,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$8 AND merged IS NULL
	`, item.ID, item.OriginalCorpusID, item.Title, item.Body, item.Media, item.EditorsNotes, encodeJSON(item.UserInteractions), item.Version)
	if err != nil {
		return fmt.Errorf("update corpus suggestion: %w", err)
	}
	return expectOneRow(result, "update corpus suggestion")
}

func (s *PostgresStore) ListCorpusSuggestions(ctx context.Context, filter SuggestionFilter) ([]CorpusSuggestion, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+corpusSuggestionColumns+` FROM corpus_suggestions`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list corpus suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]CorpusSuggestion, 0)
	for rows.Next() {
		item, err := scanCorpusSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan corpus suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus suggestions: %w", err)
	}
	return items, nil
}

// =============================================================================
// Review state shared by every suggestion collection
// =============================================================================

func (s *PostgresStore) GetBallot(ctx context.Context, collection Collection, id string) (Ballot, error) {
	if !collection.Valid() {
		return Ballot{}, fmt.Errorf("unknown collection %q", collection)
	}
	ballot := Ballot{Collection: collection}
	var approvals, denials, interactions []byte
	var merged sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, approvals, denials, user_interactions, merged, version
		FROM %s WHERE id=$1
	`, collection), id).Scan(&ballot.ID, &approvals, &denials, &interactions, &merged, &ballot.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Ballot{}, ErrNotFound
	}
	if err != nil {
		return Ballot{}, fmt.Errorf("get ballot: %w", err)
	}
	ballot.Merged = nullableString(merged)
	if err := decodeJSON(
		jsonField{approvals, &ballot.Approvals},
		jsonField{denials, &ballot.Denials},
		jsonField{interactions, &ballot.UserInteractions},
	); err != nil {
		return Ballot{}, err
	}
	return ballot, nil
}

// SaveBallot writes the vote sets when the stored version still equals
// ballot.Version, and returns ErrConflict otherwise.
func (s *PostgresStore) SaveBallot(ctx context.Context, ballot Ballot) error {
	if !ballot.Collection.Valid() {
		return fmt.Errorf("unknown collection %q", ballot.Collection)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET approvals=$2::jsonb, denials=$3::jsonb, user_interactions=$4::jsonb, version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$5
	`, ballot.Collection), ballot.ID, encodeJSON(ballot.Approvals), encodeJSON(ballot.Denials), encodeJSON(ballot.UserInteractions), ballot.Version)
	if err != nil {
		return fmt.Errorf("save ballot: %w", err)
	}
	return expectOneRow(result, "save ballot")
}

// ClaimMerge sets merged/merged_by only while merged is still NULL. It
// reports false when another caller already holds the claim.
func (s *PostgresStore) ClaimMerge(ctx context.Context, collection Collection, id, canonicalID, mergedBy string) (bool, error) {
	if !collection.Valid() {
		return false, fmt.Errorf("unknown collection %q", collection)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET merged=$2, merged_by=$3, version=version+1, updated_at=NOW()
		WHERE id=$1 AND merged IS NULL
	`, collection), id, canonicalID, mergedBy)
	if err != nil {
		return false, fmt.Errorf("claim merge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim merge rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReleaseMerge(ctx context.Context, collection Collection, id, canonicalID string) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET merged=NULL, merged_by=NULL, version=version+1, updated_at=NOW()
		WHERE id=$1 AND merged=$2
	`, collection), id, canonicalID)
	if err != nil {
		return fmt.Errorf("release merge: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSuggestion(ctx context.Context, collection Collection, id string) (bool, error) {
	if !collection.Valid() {
		return false, fmt.Errorf("unknown collection %q", collection)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, collection), id)
	if err != nil {
		return false, fmt.Errorf("delete suggestion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete suggestion rows: %w", err)
	}
	return affected > 0, nil
}

// =============================================================================
// Canonical words
// =============================================================================

const wordColumns = `id, word, definitions, pronunciation, dialects, variations, synonyms, antonyms, created_at, updated_at`

func scanWord(row rowScanner) (Word, error) {
	var item Word
	var definitions, dialects, variations, synonyms, antonyms []byte
	if err := row.Scan(&item.ID, &item.Word, &definitions, &item.Pronunciation, &dialects, &variations, &synonyms, &antonyms, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Word{}, err
	}
	return item, decodeJSON(
		jsonField{definitions, &item.Definitions},
		jsonField{dialects, &item.Dialects},
		jsonField{variations, &item.Variations},
		jsonField{synonyms, &item.Synonyms},
		jsonField{antonyms, &item.Antonyms},
	)
}

func (s *PostgresStore) GetWord(ctx context.Context, id string) (Word, error) {
	item, err := scanWord(s.db.QueryRowContext(ctx, `SELECT `+wordColumns+` FROM words WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Word{}, ErrNotFound
	}
	if err != nil {
		return Word{}, fmt.Errorf("get word: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertWord(ctx context.Context, item Word) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO words (id, word, definitions, pronunciation, dialects, variations, synonyms, antonyms)
		VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb)
	`, item.ID, item.Word, encodeJSON(item.Definitions), item.Pronunciation, encodeJSON(item.Dialects),
		encodeJSON(item.Variations), encodeJSON(item.Synonyms), encodeJSON(item.Antonyms))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert word: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWord(ctx context.Context, item Word) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE words
		SET word=$2, definitions=$3::jsonb, pronunciation=$4, dialects=$5::jsonb, variations=$6::jsonb,
			synonyms=$7::jsonb, antonyms=$8::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Word, encodeJSON(item.Definitions), item.Pronunciation, encodeJSON(item.Dialects),
		encodeJSON(item.Variations), encodeJSON(item.Synonyms), encodeJSON(item.Antonyms))
	if err != nil {
		return fmt.Errorf("update word: %w", err)
	}
	return expectRow(result, "update word")
}

func (s *PostgresStore) DeleteWord(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM words WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete word: %w", err)
	}
	return expectRow(result, "delete word")
}

// ListWordsWithRelation returns the words whose kind list contains wordID.
func (s *PostgresStore) ListWordsWithRelation(ctx context.Context, kind RelationKind, wordID string) ([]Word, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown relation kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+wordColumns+`
		FROM words
		WHERE %s @> jsonb_build_array($1::text)
		ORDER BY id ASC
	`, kind), wordID)
	if err != nil {
		return nil, fmt.Errorf("list related words: %w", err)
	}
	defer rows.Close()

	items := make([]Word, 0)
	for rows.Next() {
		item, err := scanWord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related words: %w", err)
	}
	return items, nil
}

// AddRelation appends relatedID to the kind list of wordID unless present.
// It reports whether the list changed.
func (s *PostgresStore) AddRelation(ctx context.Context, kind RelationKind, wordID, relatedID string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown relation kind %q", kind)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE words
		SET %[1]s = %[1]s || jsonb_build_array($2::text), updated_at=NOW()
		WHERE id=$1 AND NOT (%[1]s @> jsonb_build_array($2::text))
	`, kind), wordID, relatedID)
	if err != nil {
		return false, fmt.Errorf("add %s: %w", kind, err)
	}
	return s.relationChanged(ctx, result, wordID)
}

// RemoveRelation drops relatedID from the kind list of wordID.
func (s *PostgresStore) RemoveRelation(ctx context.Context, kind RelationKind, wordID, relatedID string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown relation kind %q", kind)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE words
		SET %[1]s = COALESCE((SELECT jsonb_agg(e) FROM jsonb_array_elements_text(%[1]s) AS e WHERE e <> $2), '[]'::jsonb),
			updated_at=NOW()
		WHERE id=$1 AND %[1]s @> jsonb_build_array($2::text)
	`, kind), wordID, relatedID)
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", kind, err)
	}
	return s.relationChanged(ctx, result, wordID)
}

func (s *PostgresStore) relationChanged(ctx context.Context, result sql.Result, wordID string) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("relation rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM words WHERE id=$1)`, wordID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check word exists: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// =============================================================================
// Canonical examples
// =============================================================================

const exampleColumns = `id, text, translation, meaning, pronunciation, associated_words, created_at, updated_at`

func scanExample(row rowScanner) (Example, error) {
	var item Example
	var associated []byte
	if err := row.Scan(&item.ID, &item.Text, &item.Translation, &item.Meaning, &item.Pronunciation, &associated, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Example{}, err
	}
	return item, decodeJSON(jsonField{associated, &item.AssociatedWords})
}

func (s *PostgresStore) GetExample(ctx context.Context, id string) (Example, error) {
	item, err := scanExample(s.db.QueryRowContext(ctx, `SELECT `+exampleColumns+` FROM examples WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Example{}, ErrNotFound
	}
	if err != nil {
		return Example{}, fmt.Errorf("get example: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertExample(ctx context.Context, item Example) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO examples (id, text, translation, meaning, pronunciation, associated_words)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, item.ID, item.Text, item.Translation, item.Meaning, item.Pronunciation, encodeJSON(item.AssociatedWords))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert example: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExample(ctx context.Context, item Example) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE examples
		SET text=$2, translation=$3, meaning=$4, pronunciation=$5, associated_words=$6::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Text, item.Translation, item.Meaning, item.Pronunciation, encodeJSON(item.AssociatedWords))
	if err != nil {
		return fmt.Errorf("update example: %w", err)
	}
	return expectRow(result, "update example")
}

func (s *PostgresStore) DeleteExample(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM examples WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete example: %w", err)
	}
	return expectRow(result, "delete example")
}

func (s *PostgresStore) ListExamplesByWord(ctx context.Context, wordID string) ([]Example, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exampleColumns+`
		FROM examples
		WHERE associated_words @> jsonb_build_array($1::text)
		ORDER BY created_at ASC, id ASC
	`, wordID)
	if err != nil {
		return nil, fmt.Errorf("list examples: %w", err)
	}
	defer rows.Close()

	items := make([]Example, 0)
	for rows.Next() {
		item, err := scanExample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate examples: %w", err)
	}
	return items, nil
}

// =============================================================================
// Canonical corpora
// =============================================================================

func (s *PostgresStore) GetCorpus(ctx context.Context, id string) (Corpus, error) {
	var item Corpus
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, media, created_at, updated_at FROM corpora WHERE id=$1
	`, id).Scan(&item.ID, &item.Title, &item.Body, &item.Media, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Corpus{}, ErrNotFound
	}
	if err != nil {
		return Corpus{}, fmt.Errorf("get corpus: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertCorpus(ctx context.Context, item Corpus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corpora (id, title, body, media) VALUES ($1, $2, $3, $4)
	`, item.ID, item.Title, item.Body, item.Media)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert corpus: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCorpus(ctx context.Context, item Corpus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE corpora SET title=$2, body=$3, media=$4, updated_at=NOW() WHERE id=$1
	`, item.ID, item.Title, item.Body, item.Media)
	if err != nil {
		return fmt.Errorf("update corpus: %w", err)
	}
	return expectRow(result, "update corpus")
}

func (s *PostgresStore) DeleteCorpus(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM corpora WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete corpus: %w", err)
	}
	return expectRow(result, "delete corpus")
}

// =============================================================================
// Merge records
// =============================================================================

func (s *PostgresStore) InsertMergeRecord(ctx context.Context, record MergeRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO merge_records (collection, suggestion_id, canonical_id, created, merged_by, commit_hash)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id
	`, string(record.Collection), record.SuggestionID, record.CanonicalID, record.Created, record.MergedBy, record.CommitHash).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert merge record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SetMergeRecordCommit(ctx context.Context, id int64, commitHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE merge_records SET commit_hash=$2 WHERE id=$1`, id, commitHash)
	if err != nil {
		return fmt.Errorf("set merge record commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMergeRecords(ctx context.Context, limit int) ([]MergeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, suggestion_id, canonical_id, created, merged_by, COALESCE(commit_hash, ''), merged_at
		FROM merge_records
		ORDER BY merged_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list merge records: %w", err)
	}
	defer rows.Close()

	items := make([]MergeRecord, 0)
	for rows.Next() {
		var item MergeRecord
		var collection string
		if err := rows.Scan(&item.ID, &collection, &item.SuggestionID, &item.CanonicalID, &item.Created, &item.MergedBy, &item.CommitHash, &item.MergedAt); err != nil {
			return nil, fmt.Errorf("scan merge record: %w", err)
		}
		item.Collection = Collection(collection)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge records: %w", err)
	}
	return items, nil
}

// =============================================================================
// helpers
// =============================================================================

func filterClause(filter SuggestionFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	switch filter.Merged {
	case MergedNo:
		clauses = append(clauses, "merged IS NULL")
	case MergedYes:
		clauses = append(clauses, "merged IS NOT NULL")
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, filter.limit(), filter.offset())
	return where + fmt.Sprintf(" ORDER BY updated_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type jsonField struct {
	raw    []byte
	target any
}

func decodeJSON(fields ...jsonField) error {
	for _, field := range fields {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.target); err != nil {
			return fmt.Errorf("decode json column: %w", err)
		}
	}
	return nil
}

func encodeJSON(value any) string {
	payload, err := json.Marshal(value)
	if err != nil || string(payload) == "null" {
		switch value.(type) {
		case map[string]Dialect:
			return "{}"
		default:
			return "[]"
		}
	}
	return string(payload)
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

// expectOneRow maps a zero-row compare-and-swap update to ErrConflict.
func expectOneRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func expectRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
