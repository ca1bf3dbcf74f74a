package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

const (
	DefaultTaxonomyChunkSize = 400

	emptyConditionsMessage = "conditions cannot be empty"
)

// CategorizeUseCase asks a language model to group condition keywords into
// the three taxonomy buckets and to map every keyword to a master term.
type CategorizeUseCase struct {
	generator ports.TaxonomyGenerator
	chunkSize int
}

func NewCategorizeUseCase(generator ports.TaxonomyGenerator, chunkSize int) *CategorizeUseCase {
	if chunkSize <= 0 {
		chunkSize = DefaultTaxonomyChunkSize
	}
	return &CategorizeUseCase{generator: generator, chunkSize: chunkSize}
}

// Configured reports whether a model backs the use case.
func (uc *CategorizeUseCase) Configured() bool {
	return uc != nil && uc.generator != nil
}

func (uc *CategorizeUseCase) Categorize(ctx context.Context, conditions []string) (domain.TaxonomyData, error) {
	conditions = CleanConditions(conditions)
	if len(conditions) == 0 {
		return domain.TaxonomyData{}, domain.NewPublicError(emptyConditionsMessage,
			domain.WrapError(domain.ErrInvalidInput, "categorize", errors.New("no conditions")))
	}
	if !uc.Configured() {
		return domain.TaxonomyData{}, domain.NewPublicError("LLM provider not configured",
			domain.WrapError(domain.ErrNotConfigured, "categorize", errors.New("no taxonomy generator")))
	}

	if len(conditions) > uc.chunkSize {
		return uc.categorizeInChunks(ctx, conditions), nil
	}

	parsed, err := uc.generate(ctx, buildTaxonomyPrompt(conditions, false))
	if err != nil {
		return domain.TaxonomyData{}, domain.NewPublicError("Categorization failed: "+err.Error(), err)
	}
	data := domain.TaxonomyData{Summary: parsed.Summary, Lookup: map[string]string{}}
	parsed.addToLookup(data.Lookup)
	return data.Normalize(), nil
}

// categorizeInChunks classifies large inputs chunk by chunk. A failing chunk
// is logged and skipped; summaries keep their first-seen order without
// duplicates.
func (uc *CategorizeUseCase) categorizeInChunks(ctx context.Context, conditions []string) domain.TaxonomyData {
	merged := domain.TaxonomyData{}.Normalize()
	total := (len(conditions) + uc.chunkSize - 1) / uc.chunkSize

	for idx := 0; idx < total; idx++ {
		start := idx * uc.chunkSize
		end := start + uc.chunkSize
		if end > len(conditions) {
			end = len(conditions)
		}
		chunk := conditions[start:end]

		slog.Info("taxonomy_chunk_started", "chunk", idx+1, "chunks", total, "conditions", len(chunk))
		parsed, err := uc.generate(ctx, buildTaxonomyPrompt(chunk, true))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("taxonomy_chunk_failed", "chunk", idx+1, "chunks", total, "error", err)
			continue
		}

		merged.Summary.Genetic = append(merged.Summary.Genetic, parsed.Summary.Genetic...)
		merged.Summary.RecentEvents = append(merged.Summary.RecentEvents, parsed.Summary.RecentEvents...)
		merged.Summary.OtherMajorDiagnosis = append(merged.Summary.OtherMajorDiagnosis, parsed.Summary.OtherMajorDiagnosis...)
		parsed.addToLookup(merged.Lookup)
	}

	merged.Summary.Genetic = dedupeStrings(merged.Summary.Genetic)
	merged.Summary.RecentEvents = dedupeStrings(merged.Summary.RecentEvents)
	merged.Summary.OtherMajorDiagnosis = dedupeStrings(merged.Summary.OtherMajorDiagnosis)
	return merged
}

func (uc *CategorizeUseCase) generate(ctx context.Context, prompt string) (modelTaxonomy, error) {
	raw, err := uc.generator.GenerateJSON(ctx, prompt)
	if err != nil {
		return modelTaxonomy{}, fmt.Errorf("generate taxonomy: %w", err)
	}
	return parseModelTaxonomy(raw)
}

// modelTaxonomy is the answer shape requested from the model.
type modelTaxonomy struct {
	Summary     domain.TaxonomySummary
	TermMapping map[string]json.RawMessage
}

func parseModelTaxonomy(raw string) (modelTaxonomy, error) {
	blob, err := ExtractJSONObject(raw)
	if err != nil {
		return modelTaxonomy{}, err
	}
	var decoded struct {
		SummaryLists *domain.TaxonomySummary    `json:"SummaryLists"`
		TermMapping  map[string]json.RawMessage `json:"TermMapping"`
	}
	if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
		return modelTaxonomy{}, fmt.Errorf("decode taxonomy json: %w", err)
	}
	out := modelTaxonomy{TermMapping: decoded.TermMapping}
	if decoded.SummaryLists != nil {
		out.Summary = *decoded.SummaryLists
	}
	return out, nil
}

// addToLookup maps every original string listed under a master term to that
// term, keyed by its lowercase trimmed form. Later entries win.
func (m modelTaxonomy) addToLookup(lookup map[string]string) {
	for master, rawOriginals := range m.TermMapping {
		var originals []any
		if err := json.Unmarshal(rawOriginals, &originals); err != nil {
			continue
		}
		for _, original := range originals {
			key := lookupKey(original)
			if key == "" {
				continue
			}
			lookup[key] = master
		}
	}
}

func lookupKey(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case bool:
		if !v {
			return ""
		}
		return "true"
	case float64:
		if v == 0 {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}

var (
	leadingFenceRe  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	trailingFenceRe = regexp.MustCompile("\\s*```$")
	jsonObjectRe    = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSONObject strips code fences and returns the outermost {...} blob
// of a model answer. The blob must decode to a JSON object.
func ExtractJSONObject(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errors.New("empty model response")
	}
	text = leadingFenceRe.ReplaceAllString(text, "")
	text = trailingFenceRe.ReplaceAllString(text, "")

	blob := jsonObjectRe.FindString(text)
	if blob == "" {
		return "", errors.New("no json object found in model response")
	}

	var probe any
	if err := json.Unmarshal([]byte(blob), &probe); err != nil {
		return "", fmt.Errorf("invalid json from model: %w", err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return "", errors.New("top-level json is not an object")
	}
	return blob, nil
}

// CleanConditions trims every keyword and drops blanks.
func CleanConditions(conditions []string) []string {
	out := make([]string, 0, len(conditions))
	for _, condition := range conditions {
		if condition = strings.TrimSpace(condition); condition != "" {
			out = append(out, condition)
		}
	}
	return out
}

// SplitConditions turns a comma-separated condition string into keywords.
func SplitConditions(raw string) []string {
	return CleanConditions(strings.Split(raw, ","))
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
