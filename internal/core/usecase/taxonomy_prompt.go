package usecase

import "strings"

func buildTaxonomyPrompt(conditions []string, chunked bool) string {
	coverage := `Every term of the input list must appear in "TermMapping". Do not truncate the list.
Aim for 5-15 master terms in total.`
	if chunked {
		coverage = `Map as many terms of the input list as possible in "TermMapping".`
	}

	return `You are a clinical trial data architect specialising in medical taxonomy.
Answer with a single valid JSON object only. No prose, no markdown.

Group the clinical conditions below into master terms and place each master term in exactly one bucket:
1. Genetic: chromosomal anomalies, hereditary syndromes, gene mutations.
2. RecentEvents: acute states, symptoms, surgical interventions, recent medical events.
3. OtherMajorDiagnosis: chronic diseases, primary malignancies, long-term systemic conditions.

` + coverage + `

Schema:
{
  "SummaryLists": {
    "Genetic": ["Master Term 1"],
    "RecentEvents": ["Master Term 2"],
    "OtherMajorDiagnosis": ["Master Term 3"]
  },
  "TermMapping": {
    "Master Term 1": ["original_term_a", "original_term_b"],
    "Master Term 2": ["original_term_c"]
  }
}

Input list: ` + strings.Join(conditions, ", ")
}
