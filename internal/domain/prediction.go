package domain

import (
	"errors"
	"fmt"
	"time"
)

// PredictionForm carries raw, user-entered values exactly as a form or API client
// supplied them. Units are selectors such as "ng/mL" or "pmol/L"; empty means canonical.
type PredictionForm struct {
	Mode          string `json:"mode,omitempty"`
	Age           string `json:"age"`
	AMH           string `json:"amh,omitempty"`
	AMHUnit       string `json:"amh_unit,omitempty"`
	Estradiol     string `json:"estradiol,omitempty"`
	EstradiolUnit string `json:"estradiol_unit,omitempty"`
	BMI           string `json:"bmi,omitempty"`
	PriorCycles   string `json:"prior_cycles,omitempty"`
	Diagnosis     string `json:"diagnosis,omitempty"`
	MaleFactor    *bool  `json:"male_factor,omitempty"`
	OocyteCount   string `json:"oocyte_count,omitempty"`
	MatureOocytes string `json:"mature_oocytes,omitempty"`
}

// PredictionInputs is the validated, canonical-unit input record for one prediction.
// AMH is in ng/mL and estradiol in pg/mL.
type PredictionInputs struct {
	Mode          PredictionMode `json:"mode"`
	Age           float64        `json:"age"`
	AMH           float64        `json:"amh_ng_ml,omitempty"`
	Estradiol     *float64       `json:"estradiol_pg_ml,omitempty"`
	BMI           *float64       `json:"bmi,omitempty"`
	PriorCycles   int            `json:"prior_cycles"`
	Diagnosis     Diagnosis      `json:"diagnosis"`
	MaleFactor    bool           `json:"male_factor"`
	OocyteCount   *int           `json:"oocyte_count,omitempty"`
	MatureOocytes *int           `json:"mature_oocytes,omitempty"`
}

// Validate checks structural completeness for the selected mode. Range checks belong
// to the validation package; this only guards the pipeline against malformed records.
func (in *PredictionInputs) Validate() error {
	if !in.Mode.IsValid() {
		return fmt.Errorf("prediction inputs: %w", ErrInvalidMode)
	}
	if !in.Diagnosis.IsValid() {
		return fmt.Errorf("prediction inputs: %w", ErrInvalidDiagnosis)
	}
	if in.Age <= 0 {
		return fmt.Errorf("prediction inputs: %w", errors.New("age is required"))
	}
	switch in.Mode {
	case PreRetrieval:
		if in.AMH <= 0 {
			return fmt.Errorf("prediction inputs: %w", errors.New("AMH is required before retrieval"))
		}
	case PostRetrieval:
		if in.OocyteCount == nil {
			return fmt.Errorf("prediction inputs: %w", errors.New("oocyte count is required after retrieval"))
		}
		if in.MatureOocytes != nil && *in.MatureOocytes > *in.OocyteCount {
			return fmt.Errorf("prediction inputs: %w", errors.New("mature oocytes exceed retrieved oocytes"))
		}
	}
	return nil
}

// AgeBracket returns the lookup bracket for the patient's age.
func (in *PredictionInputs) AgeBracket() AgeBracket {
	return BracketForAge(in.Age)
}

// ValidationResult is the outcome of validating a single field.
type ValidationResult struct {
	Field      string          `json:"field"`
	Valid      bool            `json:"valid"`
	Error      string          `json:"error,omitempty"`
	Warning    string          `json:"warning,omitempty"`
	Value      *float64        `json:"value,omitempty"`
	Confidence ConfidenceLevel `json:"confidence"`
}

// HasValue reports whether the field produced a normalized number.
func (r ValidationResult) HasValue() bool {
	return r.Valid && r.Value != nil
}

// ValidationReport aggregates per-field results and cross-field advisories.
type ValidationReport struct {
	Mode               PredictionMode     `json:"mode"`
	Valid              bool               `json:"valid"`
	Confidence         ConfidenceLevel    `json:"confidence"`
	Fields             []ValidationResult `json:"fields"`
	CrossFieldWarnings []string           `json:"cross_field_warnings,omitempty"`
	Errors             []string           `json:"errors,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
	Inputs             *PredictionInputs  `json:"inputs,omitempty"`
}

// Add appends a field result and folds it into the overall outcome.
func (r *ValidationReport) Add(res ValidationResult) {
	r.Fields = append(r.Fields, res)
	if !res.Valid {
		r.Valid = false
		if res.Error != "" {
			r.Errors = append(r.Errors, res.Error)
		}
	}
	if res.Warning != "" {
		r.Warnings = append(r.Warnings, res.Warning)
	}
	r.Confidence = MinConfidence(r.Confidence, res.Confidence)
}

// Field returns the result for the named field, if present.
func (r *ValidationReport) Field(name string) (ValidationResult, bool) {
	for _, f := range r.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return ValidationResult{}, false
}

// StageResult is the estimate for one funnel stage.
type StageResult struct {
	Predicted  float64 `json:"predicted"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Percentile string  `json:"percentile"`
}

// Brackets reports whether the range contains the point estimate.
func (s StageResult) Brackets() bool {
	return s.Lower <= s.Predicted && s.Predicted <= s.Upper
}

// FertilizationMethod identifies a fertilization branch.
type FertilizationMethod string

const (
	MethodConventional FertilizationMethod = "conventional"
	MethodICSI         FertilizationMethod = "icsi"
)

// FertilizationBranch holds the per-method stages that follow fertilization.
type FertilizationBranch struct {
	Method     FertilizationMethod `json:"method"`
	Fertilized StageResult         `json:"fertilized"`
	Day3       StageResult         `json:"day3_embryos"`
	Blastocyst StageResult         `json:"blastocysts"`
	Euploid    StageResult         `json:"euploid_blastocysts"`
}

// Stages returns the branch stages in funnel order.
func (b FertilizationBranch) Stages() []StageResult {
	return []StageResult{b.Fertilized, b.Day3, b.Blastocyst, b.Euploid}
}

// PredictionResults is the complete funnel for one set of inputs.
type PredictionResults struct {
	Mode          PredictionMode      `json:"mode"`
	AgeBracket    AgeBracket          `json:"age_bracket"`
	Oocytes       StageResult         `json:"oocytes"`
	MatureOocytes StageResult         `json:"mature_oocytes"`
	Conventional  FertilizationBranch `json:"conventional"`
	ICSI          FertilizationBranch `json:"icsi"`
	ModelVersion  string              `json:"model_version"`
	ComputedAt    time.Time           `json:"computed_at"`
}

// Branches returns both fertilization branches.
func (r *PredictionResults) Branches() []FertilizationBranch {
	return []FertilizationBranch{r.Conventional, r.ICSI}
}

// Prediction bundles results with the validation context they were computed under.
type Prediction struct {
	RequestID  string            `json:"request_id,omitempty"`
	Inputs     PredictionInputs  `json:"inputs"`
	Results    PredictionResults `json:"results"`
	Confidence ConfidenceLevel   `json:"confidence"`
	Warnings   []string          `json:"warnings,omitempty"`
	Cached     bool              `json:"cached"` // funnel reused from cache; ComputedAt reflects this request
}

// SavedPrediction is a named snapshot kept for later display.
type SavedPrediction struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Notes      string            `json:"notes,omitempty"`
	Inputs     PredictionInputs  `json:"inputs"`
	Results    PredictionResults `json:"results"`
	Confidence ConfidenceLevel   `json:"confidence"`
	Warnings   []string          `json:"warnings,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Validate ensures a snapshot is complete enough to persist.
func (s *SavedPrediction) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("saved prediction validation: %w", errors.New("ID is required"))
	}
	if s.Name == "" {
		return fmt.Errorf("saved prediction validation: %w", errors.New("name is required"))
	}
	if s.Confidence != "" && !s.Confidence.IsValid() {
		return fmt.Errorf("saved prediction validation: %w", ErrInvalidConfidence)
	}
	return s.Inputs.Validate()
}

// PredictionRecord is one audit-trail row for a computed prediction.
type PredictionRecord struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id,omitempty"`
	Mode             PredictionMode  `json:"mode"`
	InputFingerprint string          `json:"input_fingerprint"`
	AgeBracket       AgeBracket      `json:"age_bracket"`
	Diagnosis        Diagnosis       `json:"diagnosis"`
	Confidence       ConfidenceLevel `json:"confidence"`
	WarningCount     int             `json:"warning_count"`
	EuploidICSI      float64         `json:"euploid_icsi"`
	ModelVersion     string          `json:"model_version"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Cached           bool            `json:"cached"`
	CreatedAt        time.Time       `json:"created_at"`
}
