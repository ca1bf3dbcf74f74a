package usecase

import "github.com/kirillkom/trialmatch/internal/core/domain"

// FilterByAge keeps trials whose eligibility bounds include targetAge, both
// bounds inclusive. Trials with inverted bounds never match.
func FilterByAge(trials []domain.FlattenedTrial, targetAge int) []domain.FlattenedTrial {
	out := make([]domain.FlattenedTrial, 0, len(trials))
	for _, trial := range trials {
		if trial.EligibilityMinimumAge <= targetAge && targetAge <= trial.EligibilityMaximumAge {
			out = append(out, trial)
		}
	}
	return out
}

// UniqueConditions collects the distinct condition keywords of all trials in
// first-seen order.
func UniqueConditions(trials []domain.FlattenedTrial) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, trial := range trials {
		for _, keyword := range trial.ConditionKeywords() {
			if _, ok := seen[keyword]; ok {
				continue
			}
			seen[keyword] = struct{}{}
			out = append(out, keyword)
		}
	}
	return out
}

// Enrich attaches the master terms each trial maps to through lookup. A trial
// without any mapped keyword gets an empty, non-nil list.
func Enrich(trials []domain.FlattenedTrial, lookup map[string]string) []domain.FlattenedTrial {
	out := make([]domain.FlattenedTrial, len(trials))
	for i, trial := range trials {
		terms := make([]string, 0)
		seen := make(map[string]struct{})
		for _, keyword := range trial.ConditionKeywords() {
			master, ok := lookup[keyword]
			if !ok || master == "" {
				continue
			}
			if _, dup := seen[master]; dup {
				continue
			}
			seen[master] = struct{}{}
			terms = append(terms, master)
		}
		trial.MasterDiagnoses = terms
		out[i] = trial
	}
	return out
}
