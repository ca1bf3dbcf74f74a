package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

const (
	trialsSheet   = "Trials"
	taxonomySheet = "Taxonomy"
)

var trialHeaders = []string{
	"NCT ID",
	"Title",
	"Status",
	"Start Date",
	"Minimum Age",
	"Maximum Age",
	"Conditions",
	"Master Diagnoses",
	"Link",
}

// WriteTrials renders trials, and the taxonomy when present, as a workbook.
func WriteTrials(w io.Writer, trials []domain.FlattenedTrial, taxonomy *domain.TaxonomyData) error {
	f, err := buildWorkbook(trials, taxonomy)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveTrials writes the workbook to path.
func SaveTrials(path string, trials []domain.FlattenedTrial, taxonomy *domain.TaxonomyData) error {
	f, err := buildWorkbook(trials, taxonomy)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func buildWorkbook(trials []domain.FlattenedTrial, taxonomy *domain.TaxonomyData) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", trialsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, header := range trialHeaders {
		if err := setCell(f, trialsSheet, i+1, 1, header); err != nil {
			return nil, err
		}
	}
	for r, trial := range trials {
		row := []any{
			trial.NCTID,
			trial.BriefTitle,
			trial.OverallStatus,
			trial.StartDate,
			trial.EligibilityMinimumAge,
			trial.EligibilityMaximumAge,
			strings.Join(trial.ConditionKeywords(), ", "),
			strings.Join(trial.MasterDiagnoses, ", "),
			"https://clinicaltrials.gov/study/" + trial.NCTID,
		}
		for c, value := range row {
			if err := setCell(f, trialsSheet, c+1, r+2, value); err != nil {
				return nil, err
			}
		}
	}
	if err := f.SetPanes(trialsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	if taxonomy != nil {
		if _, err := f.NewSheet(taxonomySheet); err != nil {
			return nil, fmt.Errorf("create taxonomy sheet: %w", err)
		}
		if err := setCell(f, taxonomySheet, 1, 1, "Bucket"); err != nil {
			return nil, err
		}
		if err := setCell(f, taxonomySheet, 2, 1, "Master Term"); err != nil {
			return nil, err
		}
		row := 2
		for _, bucket := range domain.TaxonomyBuckets {
			for _, term := range taxonomy.Summary.Bucket(bucket) {
				if err := setCell(f, taxonomySheet, 1, row, string(bucket)); err != nil {
					return nil, err
				}
				if err := setCell(f, taxonomySheet, 2, row, term); err != nil {
					return nil, err
				}
				row++
			}
		}
	}

	return f, nil
}

func setCell(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
	}
	return nil
}
