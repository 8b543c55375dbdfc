package validation

import (
	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/pkg/units"
)

// ValidateForm validates every field needed by the selected mode, resolves the diagnosis,
// runs the cross-field checks and, when nothing is invalid, builds canonical inputs.
func (v *Validator) ValidateForm(form domain.PredictionForm) domain.ValidationReport {
	report := domain.ValidationReport{Valid: true, Confidence: domain.HIGH}

	mode, err := domain.ParsePredictionMode(form.Mode)
	if err != nil {
		report.Add(domain.ValidationResult{
			Field: FieldMode, Error: "Please choose pre-retrieval or post-retrieval", Confidence: domain.LOW,
		})
		mode = domain.PreRetrieval
	}
	report.Mode = mode

	age := v.ValidateAge(form.Age)
	report.Add(age)

	amhUnit, amhUnitErr := units.ParseUnit(form.AMHUnit)
	var amh domain.ValidationResult
	if amhUnitErr != nil {
		amh = unitError(FieldAMH, "AMH")
	} else {
		amh = v.validateAMH(form.AMH, amhUnit, mode == domain.PreRetrieval)
	}
	report.Add(amh)

	e2Unit, e2UnitErr := units.ParseUnit(form.EstradiolUnit)
	var e2 domain.ValidationResult
	if e2UnitErr != nil {
		e2 = unitError(FieldEstradiol, "Estradiol")
	} else {
		e2 = v.ValidateEstradiol(form.Estradiol, e2Unit)
	}
	report.Add(e2)

	bmi := v.ValidateBMI(form.BMI)
	report.Add(bmi)

	prior := v.ValidatePriorCycles(form.PriorCycles)
	report.Add(prior)

	diagnosis, err := domain.ParseDiagnosis(form.Diagnosis)
	if err != nil {
		report.Add(domain.ValidationResult{
			Field: FieldDiagnosis, Error: "Please select a diagnosis from the list", Confidence: domain.LOW,
		})
	} else {
		report.Add(domain.ValidationResult{Field: FieldDiagnosis, Valid: true, Confidence: domain.HIGH})
	}

	var oocytes, mature domain.ValidationResult
	if mode == domain.PostRetrieval {
		oocytes = v.ValidateOocyteCount(form.OocyteCount)
		report.Add(oocytes)

		var retrieved *int
		if oocytes.HasValue() {
			n := int(*oocytes.Value)
			retrieved = &n
		}
		mature = v.ValidateMatureOocytes(form.MatureOocytes, retrieved)
		report.Add(mature)
	}

	if age.HasValue() && amh.HasValue() && diagnosis != "" {
		cross := v.CheckCrossField(CrossFieldInputs{
			Age:       *age.Value,
			AMH:       *amh.Value,
			Estradiol: e2.Value,
			Diagnosis: diagnosis,
		})
		report.CrossFieldWarnings = cross
		report.Warnings = append(report.Warnings, cross...)
		report.Confidence = report.Confidence.Downgrade(len(cross))
	}

	if !report.Valid {
		report.Confidence = domain.LOW
		return report
	}

	inputs := domain.PredictionInputs{
		Mode:       mode,
		Age:        *age.Value,
		Diagnosis:  diagnosis,
		MaleFactor: diagnosis == domain.DiagnosisMaleFactor,
	}
	if form.MaleFactor != nil {
		inputs.MaleFactor = *form.MaleFactor
	}
	if amh.HasValue() {
		inputs.AMH = *amh.Value
	}
	inputs.Estradiol = e2.Value
	inputs.BMI = bmi.Value
	if prior.HasValue() {
		inputs.PriorCycles = int(*prior.Value)
	}
	if oocytes.HasValue() {
		n := int(*oocytes.Value)
		inputs.OocyteCount = &n
	}
	if mature.HasValue() {
		n := int(*mature.Value)
		inputs.MatureOocytes = &n
	}
	report.Inputs = &inputs
	return report
}

func unitError(field, label string) domain.ValidationResult {
	return domain.ValidationResult{Field: field, Error: label + " unit is not supported", Confidence: domain.LOW}
}
