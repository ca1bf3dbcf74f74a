package ctgov

import (
	"regexp"
	"strconv"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

// fieldMapping renames flattened registry paths into the canonical schema.
// Paths not listed keep their flattened name.
var fieldMapping = map[string]string{
	"protocolSection.identificationModule.nctId":                    "nctId",
	"protocolSection.identificationModule.briefTitle":               "moduleBriefTitle",
	"protocolSection.identificationModule.officialTitle":            "moduleOfficialTitle",
	"protocolSection.identificationModule.organization.fullName":    "organization",
	"protocolSection.statusModule.overallStatus":                    "overallStatus",
	"protocolSection.statusModule.startDateStruct.date":             "startDate",
	"protocolSection.statusModule.primaryCompletionDateStruct.date": "primaryCompletionDate",
	"protocolSection.statusModule.lastUpdatePostDateStruct.date":    "lastUpdatePostDate",
	"protocolSection.descriptionModule.briefSummary":                "briefSummary",
	"protocolSection.descriptionModule.detailedDescription":         "detailedDescription",
	"protocolSection.conditionsModule.conditions":                   "conditions",
	"protocolSection.conditionsModule.keywords":                     "conditionKeywords",
	"protocolSection.designModule.studyType":                        "studyType",
	"protocolSection.designModule.phases":                           "phases",
	"protocolSection.designModule.enrollmentInfo.count":             "enrollmentCount",
	"protocolSection.eligibilityModule.eligibilityCriteria":         "eligibilityCriteria",
	"protocolSection.eligibilityModule.healthyVolunteers":           "eligibilityHealthyVolunteers",
	"protocolSection.eligibilityModule.sex":                         "eligibilitySex",
	"protocolSection.eligibilityModule.minimumAge":                  "eligibilityMinimumAge",
	"protocolSection.eligibilityModule.maximumAge":                  "eligibilityMaximumAge",
	"protocolSection.eligibilityModule.stdAges":                     "eligibilityStdAges",
	"protocolSection.sponsorCollaboratorsModule.leadSponsor.name":   "leadSponsor",
	"protocolSection.contactsLocationsModule.centralContacts":       "centralContacts",
	"protocolSection.contactsLocationsModule.locations":             "locations",
	"protocolSection.armsInterventionsModule.interventions":         "interventions",
	"derivedSection.conditionBrowseModule.meshes":                   "conditionMeshes",
	"hasResults":                                                    "hasResults",
}

var firstDigitsRe = regexp.MustCompile(`\d+`)

// ExtractAge reads the first run of digits from a registry age string such as
// "65 Years". Non-strings, blanks and digit-free strings yield fallback.
func ExtractAge(value any, fallback int) int {
	s, ok := value.(string)
	if !ok || s == "" {
		return fallback
	}
	match := firstDigitsRe.FindString(s)
	if match == "" {
		return fallback
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return fallback
	}
	return n
}

// RenameFields applies fieldMapping to a flattened record.
func RenameFields(flat map[string]any) map[string]any {
	renamed := make(map[string]any, len(flat))
	for key, value := range flat {
		if mapped, ok := fieldMapping[key]; ok {
			key = mapped
		}
		renamed[key] = value
	}
	return renamed
}

// BuildAndRenameTrial flattens one registry study (optionally wrapped in a
// "study" envelope), renames its keys and normalizes the age bounds.
func BuildAndRenameTrial(raw map[string]any) domain.FlattenedTrial {
	source := raw
	if study, ok := raw["study"].(map[string]any); ok {
		source = study
	}
	renamed := RenameFields(FlattenRecord(source, "", KeySeparator))

	trial := domain.FlattenedTrial{
		NCTID:                 takeString(renamed, "nctId"),
		BriefTitle:            takeString(renamed, "moduleBriefTitle"),
		OfficialTitle:         takeString(renamed, "moduleOfficialTitle"),
		OverallStatus:         takeString(renamed, "overallStatus"),
		StartDate:             takeString(renamed, "startDate"),
		BriefSummary:          takeString(renamed, "briefSummary"),
		Conditions:            takeString(renamed, "conditions"),
		EligibilityCriteria:   takeString(renamed, "eligibilityCriteria"),
		EligibilityMinimumAge: ExtractAge(take(renamed, "eligibilityMinimumAge"), domain.DefaultMinimumAge),
		EligibilityMaximumAge: ExtractAge(take(renamed, "eligibilityMaximumAge"), domain.DefaultMaximumAge),
	}
	if len(renamed) > 0 {
		trial.Extra = renamed
	}
	return trial
}

func take(fields map[string]any, key string) any {
	value, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	return value
}

func takeString(fields map[string]any, key string) string {
	value := take(fields, key)
	if value == nil {
		return ""
	}
	return scalarString(value)
}
