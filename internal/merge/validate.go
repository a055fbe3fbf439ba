package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/store"
)

// ValidateWord reports every structural problem of a word suggestion as one
// ValidationFailed error.
func ValidateWord(s store.WordSuggestion) error {
	var problems []string
	if strings.TrimSpace(s.Word) == "" {
		problems = append(problems, "word is required")
	}
	if len(s.Definitions) == 0 {
		problems = append(problems, "at least one definition group is required")
	}
	for i, group := range s.Definitions {
		if strings.TrimSpace(group.WordClass) == "" {
			problems = append(problems, fmt.Sprintf("definitions[%d]: word class is required", i))
		}
		if !hasText(group.Definitions) {
			problems = append(problems, fmt.Sprintf("definitions[%d]: at least one definition is required", i))
		}
	}
	problems = append(problems, dialectProblems(s.Dialects)...)
	return invalid("word suggestion", s.ID, problems)
}

// ValidateDialects checks that every dialect key is a known dialect code.
func ValidateDialects(dialects map[string]store.Dialect) error {
	return invalid("dialects", "", dialectProblems(dialects))
}

func dialectProblems(dialects map[string]store.Dialect) []string {
	var unknown []string
	for code := range dialects {
		if !store.IsKnownDialect(code) {
			unknown = append(unknown, code)
		}
	}
	sort.Strings(unknown)
	problems := make([]string, 0, len(unknown))
	for _, code := range unknown {
		problems = append(problems, fmt.Sprintf("unknown dialect %q", code))
	}
	return problems
}

func ValidateExample(s store.ExampleSuggestion) error {
	var problems []string
	if strings.TrimSpace(s.Text) == "" {
		problems = append(problems, "text is required")
	}
	return invalid("example suggestion", s.ID, problems)
}

func ValidateCorpus(s store.CorpusSuggestion) error {
	var problems []string
	if strings.TrimSpace(s.Title) == "" {
		problems = append(problems, "title is required")
	}
	return invalid("corpus suggestion", s.ID, problems)
}

func invalid(noun, id string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	subject := noun
	if id != "" {
		subject += " " + id
	}
	return apperr.Validation("%s: %s", subject, strings.Join(problems, "; ")).
		WithDetails(map[string]any{"problems": problems})
}

func hasText(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// checkAssociatedWords requires a non-empty list of distinct ids that all
// name canonical words.
func checkAssociatedWords(ctx context.Context, s mergeStore, ids []string) error {
	if len(ids) == 0 {
		return apperr.InvalidReference("example must be associated with at least one word")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apperr.InvalidReference("associated word id is blank")
		}
		if seen[id] {
			return apperr.InvalidReference("associated word %s is listed twice", id)
		}
		seen[id] = true
	}
	for _, id := range ids {
		if _, err := s.GetWord(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.InvalidReference("associated word %s does not exist", id).
					WithDetails(map[string]any{"wordId": id})
			}
			return fmt.Errorf("load associated word %s: %w", id, err)
		}
	}
	return nil
}
