// Package validation turns raw form entries into canonical, range-checked values
// annotated with clinical warnings and a confidence tier.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/pkg/units"
)

// Field names used in ValidationResult.Field.
const (
	FieldMode          = "mode"
	FieldAge           = "age"
	FieldAMH           = "amh"
	FieldEstradiol     = "estradiol"
	FieldBMI           = "bmi"
	FieldPriorCycles   = "prior_cycles"
	FieldDiagnosis     = "diagnosis"
	FieldOocyteCount   = "oocyte_count"
	FieldMatureOocytes = "mature_oocytes"
)

// numericRule describes the hard bounds of one numeric field.
type numericRule struct {
	field    string
	label    string
	unit     string
	min      float64
	max      float64
	integer  bool
	required bool
}

var (
	ageRule = numericRule{field: FieldAge, label: "Age", unit: "years", min: 12, max: 55, required: true}
	amhRule = numericRule{field: FieldAMH, label: "AMH", unit: "ng/mL", min: 0.01, max: 50, required: true}
	e2Rule  = numericRule{field: FieldEstradiol, label: "Estradiol", unit: "pg/mL", min: 10, max: 20000}
	bmiRule = numericRule{field: FieldBMI, label: "BMI", min: 12, max: 60}

	oocyteRule      = numericRule{field: FieldOocyteCount, label: "Oocyte count", min: 0, max: 50, integer: true, required: true}
	matureRule      = numericRule{field: FieldMatureOocytes, label: "Mature oocyte count", min: 0, max: 50, integer: true}
	priorCyclesRule = numericRule{field: FieldPriorCycles, label: "Prior cycles", min: 0, max: 20, integer: true}
)

// plainDecimal matches ordinary decimal notation. strconv.ParseFloat alone would
// also take hex floats, digit separators and "Inf".
var plainDecimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Validator checks single fields. It is stateless apart from the optional
// estradiol model used by the cross-field checks.
type Validator struct {
	estradiol EstradiolModel
}

// NewValidator creates a validator. A nil model disables the estradiol
// plausibility check.
func NewValidator(model EstradiolModel) *Validator {
	return &Validator{estradiol: model}
}

// ValidateAge validates the patient's age in years.
func (v *Validator) ValidateAge(raw string) domain.ValidationResult {
	res, age, ok := checkNumber(raw, ageRule, nil)
	if !ok {
		return res
	}
	switch {
	case age < 18:
		return warn(res, domain.LOW, "Estimates for patients under 18 are extrapolated from adult data")
	case age > 45:
		return warn(res, domain.LOW, "Very limited outcome data above age 45; please seek specialized medical advice")
	case age > 40:
		return warn(res, domain.LOW, "Outcomes vary widely after age 40; estimates are less reliable")
	case age > 35:
		return warn(res, domain.MEDIUM, "Success rates decline after age 35; estimates carry more uncertainty")
	}
	return res
}

// ValidateAMH validates an AMH level entered in unit u and normalizes it to ng/mL.
func (v *Validator) ValidateAMH(raw string, u units.Unit) domain.ValidationResult {
	return v.validateAMH(raw, u, true)
}

func (v *Validator) validateAMH(raw string, u units.Unit, required bool) domain.ValidationResult {
	rule := amhRule
	rule.required = required
	res, amh, ok := checkNumber(raw, rule, func(x float64) (float64, error) {
		return units.AMHToCanonical(x, u)
	})
	if !ok {
		return res
	}
	switch {
	case amh < 0.3:
		return warn(res, domain.LOW, "Very low AMH indicates severely reduced ovarian reserve")
	case amh < 1.0:
		return warn(res, domain.MEDIUM, "Low AMH indicates reduced ovarian reserve")
	case amh > 15:
		return warn(res, domain.MEDIUM, "Unusually high AMH; consider PCOS or check the unit")
	}
	return res
}

// ValidateEstradiol validates an optional estradiol level and normalizes it to pg/mL.
func (v *Validator) ValidateEstradiol(raw string, u units.Unit) domain.ValidationResult {
	res, e2, ok := checkNumber(raw, e2Rule, func(x float64) (float64, error) {
		return units.EstradiolToCanonical(x, u)
	})
	if !ok || res.Value == nil {
		return res
	}
	switch {
	case e2 < 500:
		return warn(res, domain.MEDIUM, "Low estradiol may indicate a poor response to stimulation")
	case e2 > 5000:
		return warn(res, domain.MEDIUM, "High estradiol indicates a strong response; discuss OHSS risk with your clinic")
	}
	return res
}

// ValidateBMI validates an optional body-mass index.
func (v *Validator) ValidateBMI(raw string) domain.ValidationResult {
	res, bmi, ok := checkNumber(raw, bmiRule, nil)
	if !ok || res.Value == nil {
		return res
	}
	switch {
	case bmi < 17:
		return warn(res, domain.LOW, "Very low BMI may reduce response to stimulation")
	case bmi >= 35:
		return warn(res, domain.LOW, "BMI of 35 or more is associated with lower success rates")
	case bmi < 18.5:
		return warn(res, domain.MEDIUM, "BMI below the healthy range")
	case bmi > 24.9:
		return warn(res, domain.MEDIUM, "BMI above the healthy range")
	}
	return res
}

// ValidatePriorCycles validates an optional count of previous IVF cycles.
func (v *Validator) ValidatePriorCycles(raw string) domain.ValidationResult {
	res, n, ok := checkNumber(raw, priorCyclesRule, nil)
	if !ok || res.Value == nil {
		return res
	}
	if n >= 3 {
		return warn(res, domain.MEDIUM, "Three or more prior cycles; outcomes may differ from first-cycle data")
	}
	return res
}

// ValidateOocyteCount validates the number of oocytes retrieved.
func (v *Validator) ValidateOocyteCount(raw string) domain.ValidationResult {
	res, n, ok := checkNumber(raw, oocyteRule, nil)
	if !ok {
		return res
	}
	switch {
	case n == 0:
		return warn(res, domain.LOW, "No oocytes retrieved; all later stages will be zero")
	case n > 30:
		return warn(res, domain.MEDIUM, "Unusually high oocyte count; check for OHSS risk")
	}
	return res
}

// ValidateMatureOocytes validates an optional mature (MII) count against the
// retrieved count when that is known.
func (v *Validator) ValidateMatureOocytes(raw string, retrieved *int) domain.ValidationResult {
	res, n, ok := checkNumber(raw, matureRule, nil)
	if !ok || res.Value == nil {
		return res
	}
	if retrieved != nil && int(n) > *retrieved {
		return invalid(res, "Mature oocyte count cannot exceed the number of oocytes retrieved")
	}
	return res
}

// checkNumber applies the common parse, sign, conversion, integer and range checks.
// The returned bool is false when the result is invalid or when an optional field is empty.
func checkNumber(raw string, rule numericRule, convert func(float64) (float64, error)) (domain.ValidationResult, float64, bool) {
	res := domain.ValidationResult{Field: rule.field, Valid: true, Confidence: domain.HIGH}

	s := strings.TrimSpace(raw)
	if s == "" {
		if rule.required {
			return invalid(res, fmt.Sprintf("%s is required", rule.label)), 0, false
		}
		return res, 0, false
	}

	if !plainDecimal.MatchString(s) {
		return invalid(res, "Please enter a valid number"), 0, false
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return invalid(res, "Please enter a valid number"), 0, false
	}
	if x < 0 {
		return invalid(res, fmt.Sprintf("%s cannot be negative", rule.label)), 0, false
	}

	if convert != nil {
		x, err = convert(x)
		if err != nil {
			return invalid(res, fmt.Sprintf("%s unit is not supported", rule.label)), 0, false
		}
	}

	if rule.integer && x != math.Trunc(x) {
		return invalid(res, fmt.Sprintf("%s must be a whole number", rule.label)), 0, false
	}
	if x < rule.min || x > rule.max {
		return invalid(res, rangeMessage(rule)), 0, false
	}

	res.Value = &x
	return res, x, true
}

func rangeMessage(rule numericRule) string {
	msg := fmt.Sprintf("%s must be between %s and %s", rule.label, formatBound(rule.min), formatBound(rule.max))
	if rule.unit != "" {
		msg += " " + rule.unit
	}
	return msg
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func invalid(res domain.ValidationResult, msg string) domain.ValidationResult {
	res.Valid = false
	res.Error = msg
	res.Value = nil
	res.Confidence = domain.LOW
	return res
}

func warn(res domain.ValidationResult, level domain.ConfidenceLevel, msg string) domain.ValidationResult {
	res.Warning = msg
	res.Confidence = level
	return res
}
