package validation

import (
	"fmt"

	"github.com/ivf-outcome-server/internal/domain"
)

// EstradiolModel predicts the peak estradiol expected for a patient's age and AMH.
type EstradiolModel interface {
	ExpectedEstradiol(age, amh float64) float64
}

// Cross-field thresholds.
const (
	lowAMHThreshold       = 1.0
	youngAgeThreshold     = 35.0
	highAMHThreshold      = 5.0
	advancedAgeThreshold  = 40.0
	dorHighAMHThreshold   = 4.0
	pcosLowAMHThreshold   = 1.0
	estradiolRatioMinimum = 0.3
	estradiolRatioMaximum = 3.0
)

// CrossFieldInputs are the validated values the combination checks look at.
type CrossFieldInputs struct {
	Age       float64
	AMH       float64
	Estradiol *float64
	Diagnosis domain.Diagnosis
}

// CheckCrossField flags statistically unusual combinations. Each message is advisory
// and should lower overall confidence by one tier; none of them invalidates the inputs.
func (v *Validator) CheckCrossField(in CrossFieldInputs) []string {
	var warnings []string

	if in.AMH > 0 {
		if in.AMH < lowAMHThreshold && in.Age < youngAgeThreshold && in.Diagnosis != domain.DiagnosisDiminishedOvarianReserve {
			warnings = append(warnings, fmt.Sprintf(
				"AMH of %.2f ng/mL is unusually low for age %.0f; confirm the value and unit", in.AMH, in.Age))
		}
		if in.AMH > highAMHThreshold && in.Age >= advancedAgeThreshold && in.Diagnosis != domain.DiagnosisPCOS {
			warnings = append(warnings, fmt.Sprintf(
				"AMH of %.2f ng/mL is unusually high for age %.0f; confirm the value and unit", in.AMH, in.Age))
		}
		if in.Diagnosis == domain.DiagnosisDiminishedOvarianReserve && in.AMH > dorHighAMHThreshold {
			warnings = append(warnings, "AMH is higher than expected with a diminished ovarian reserve diagnosis")
		}
		if in.Diagnosis == domain.DiagnosisPCOS && in.AMH < pcosLowAMHThreshold {
			warnings = append(warnings, "AMH is lower than expected with a PCOS diagnosis")
		}
	}

	if w := v.checkEstradiol(in); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

func (v *Validator) checkEstradiol(in CrossFieldInputs) string {
	if v.estradiol == nil || in.Estradiol == nil || in.AMH <= 0 {
		return ""
	}
	expected := v.estradiol.ExpectedEstradiol(in.Age, in.AMH)
	if expected <= 0 {
		return ""
	}
	ratio := *in.Estradiol / expected
	switch {
	case ratio < estradiolRatioMinimum:
		return fmt.Sprintf("Estradiol of %.0f pg/mL is far below the ~%.0f pg/mL expected for this age and AMH", *in.Estradiol, expected)
	case ratio > estradiolRatioMaximum:
		return fmt.Sprintf("Estradiol of %.0f pg/mL is far above the ~%.0f pg/mL expected for this age and AMH", *in.Estradiol, expected)
	}
	return ""
}
