package usecase

import "github.com/kirillkom/trialmatch/internal/core/domain"

const DefaultPageSize = 10

// FilterBySelectedTerms keeps trials tagged with at least one selected term.
// An empty selection keeps everything.
func FilterBySelectedTerms(trials []domain.FlattenedTrial, selected map[string]struct{}) []domain.FlattenedTrial {
	if len(selected) == 0 {
		return trials
	}
	out := make([]domain.FlattenedTrial, 0, len(trials))
	for _, trial := range trials {
		for _, term := range trial.MasterDiagnoses {
			if _, ok := selected[term]; ok {
				out = append(out, trial)
				break
			}
		}
	}
	return out
}

// TotalPages is max(1, ceil(count/pageSize)).
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := (count + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// Paginate filters trials by selected terms and materializes the requested
// page, clamped into [1, totalPages].
func Paginate(trials []domain.FlattenedTrial, selected map[string]struct{}, page, pageSize int) domain.TrialPage {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	filtered := FilterBySelectedTerms(trials, selected)
	totalPages := TotalPages(len(filtered), pageSize)

	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	items := make([]domain.FlattenedTrial, 0, end-start)
	if start < end {
		items = append(items, filtered[start:end]...)
	}

	return domain.TrialPage{
		Items:         items,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
		TotalFiltered: len(filtered),
	}
}
