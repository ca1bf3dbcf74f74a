package domain

import (
	"encoding/json"
	"strings"
)

const (
	DefaultMinimumAge = 0
	DefaultMaximumAge = 999

	// ConditionSeparator joins multi-valued registry fields after flattening.
	ConditionSeparator = "|"
)

// FlattenedTrial is the canonical, normalized view of one registry study.
// Fields the canonical schema does not name are kept in Extra under their
// renamed flat key.
type FlattenedTrial struct {
	NCTID                 string         `json:"nctId"`
	BriefTitle            string         `json:"moduleBriefTitle"`
	OfficialTitle         string         `json:"moduleOfficialTitle,omitempty"`
	OverallStatus         string         `json:"overallStatus"`
	StartDate             string         `json:"startDate,omitempty"`
	BriefSummary          string         `json:"briefSummary,omitempty"`
	Conditions            string         `json:"conditions,omitempty"`
	EligibilityMinimumAge int            `json:"eligibilityMinimumAge"`
	EligibilityMaximumAge int            `json:"eligibilityMaximumAge"`
	EligibilityCriteria   string         `json:"eligibilityCriteria,omitempty"`
	MasterDiagnoses       []string       `json:"master_diagnoses,omitempty"`
	Extra                 map[string]any `json:"extra,omitempty"`
}

// ConditionKeywords splits the delimited conditions field into lowercase,
// trimmed, non-empty keywords in their original order. Duplicates are kept.
func (t FlattenedTrial) ConditionKeywords() []string {
	if t.Conditions == "" {
		return nil
	}
	parts := strings.Split(t.Conditions, ConditionSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		keyword := strings.ToLower(strings.TrimSpace(part))
		if keyword != "" {
			out = append(out, keyword)
		}
	}
	return out
}

// MarshalJSON omits master_diagnoses before enrichment and writes an empty
// list for an enriched trial that matched no master term.
func (t FlattenedTrial) MarshalJSON() ([]byte, error) {
	type plain FlattenedTrial
	out := struct {
		plain
		MasterDiagnoses *[]string `json:"master_diagnoses,omitempty"`
	}{plain: plain(t)}
	if t.MasterDiagnoses != nil {
		terms := t.MasterDiagnoses
		out.MasterDiagnoses = &terms
	}
	return json.Marshal(out)
}

// Enriched reports whether master diagnoses were attached to the trial.
func (t FlattenedTrial) Enriched() bool {
	return t.MasterDiagnoses != nil
}

type TaxonomyBucket string

const (
	BucketGenetic             TaxonomyBucket = "Genetic"
	BucketRecentEvents        TaxonomyBucket = "RecentEvents"
	BucketOtherMajorDiagnosis TaxonomyBucket = "OtherMajorDiagnosis"
)

// TaxonomyBuckets lists the buckets in presentation order.
var TaxonomyBuckets = []TaxonomyBucket{BucketGenetic, BucketRecentEvents, BucketOtherMajorDiagnosis}

type TaxonomySummary struct {
	Genetic             []string `json:"Genetic"`
	RecentEvents        []string `json:"RecentEvents"`
	OtherMajorDiagnosis []string `json:"OtherMajorDiagnosis"`
}

func (s TaxonomySummary) Bucket(bucket TaxonomyBucket) []string {
	switch bucket {
	case BucketGenetic:
		return s.Genetic
	case BucketRecentEvents:
		return s.RecentEvents
	case BucketOtherMajorDiagnosis:
		return s.OtherMajorDiagnosis
	default:
		return nil
	}
}

// TaxonomyData is the classifier output: three term buckets plus a
// many-to-one lookup from lowercase condition keyword to master term.
type TaxonomyData struct {
	Summary TaxonomySummary   `json:"summary"`
	Lookup  map[string]string `json:"lookup"`
}

// Normalize replaces missing buckets and lookup with empty values.
func (d TaxonomyData) Normalize() TaxonomyData {
	if d.Summary.Genetic == nil {
		d.Summary.Genetic = []string{}
	}
	if d.Summary.RecentEvents == nil {
		d.Summary.RecentEvents = []string{}
	}
	if d.Summary.OtherMajorDiagnosis == nil {
		d.Summary.OtherMajorDiagnosis = []string{}
	}
	if d.Lookup == nil {
		d.Lookup = map[string]string{}
	}
	return d
}

func (d TaxonomyData) BucketCounts() BucketCounts {
	return BucketCounts{
		Genetic:             len(d.Summary.Genetic),
		RecentEvents:        len(d.Summary.RecentEvents),
		OtherMajorDiagnosis: len(d.Summary.OtherMajorDiagnosis),
	}
}
