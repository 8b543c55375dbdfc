package prediction

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivf-outcome-server/internal/domain"
)

//go:embed coefficients.yaml
var defaultCoefficientsYAML []byte

// Coefficients holds every statistical constant the pipeline uses.
type Coefficients struct {
	Version                          string                                            `yaml:"version"`
	OocyteModel                      OocyteModel                                       `yaml:"oocyte_model"`
	MaturityRate                     float64                                           `yaml:"maturity_rate"`
	MaleFactorConventionalMultiplier float64                                           `yaml:"male_factor_conventional_multiplier"`
	PriorCycles                      PriorCycleModel                                   `yaml:"prior_cycles"`
	BMIBands                         []BMIBand                                         `yaml:"bmi_bands"`
	AgeBrackets                      map[domain.AgeBracket]AgeCoefficients             `yaml:"age_brackets"`
	Branches                         map[domain.FertilizationMethod]BranchCoefficients `yaml:"branches"`
	Diagnoses                        map[domain.Diagnosis]DiagnosisCoefficients        `yaml:"diagnoses"`
	Spreads                          StageSpreads                                      `yaml:"spreads"`
	PercentileBands                  []PercentileBand                                  `yaml:"percentile_bands"`
}

// OocyteModel estimates retrieval yield from AMH and, when known, peak estradiol.
type OocyteModel struct {
	BaseOocytes        float64 `yaml:"base_oocytes"`
	ReferenceAMH       float64 `yaml:"reference_amh"`
	AMHExponent        float64 `yaml:"amh_exponent"`
	EstradiolPerOocyte float64 `yaml:"estradiol_per_oocyte"`
	AMHWeight          float64 `yaml:"amh_weight"`
	MaxOocytes         float64 `yaml:"max_oocytes"`
}

// PriorCycleModel lowers expected yield for each previous cycle, down to Floor.
type PriorCycleModel struct {
	PenaltyPerCycle float64 `yaml:"penalty_per_cycle"`
	Floor           float64 `yaml:"floor"`
}

// BMIBand applies Factor to the oocyte stage when BMI is below Below.
type BMIBand struct {
	Below  float64 `yaml:"below"`
	Factor float64 `yaml:"factor"`
}

// AgeCoefficients are the age-keyed tables.
type AgeCoefficients struct {
	OocyteMultiplier float64 `yaml:"oocyte_multiplier"`
	BlastulationRate float64 `yaml:"blastulation_rate"`
	EuploidyRate     float64 `yaml:"euploidy_rate"`
	ReferenceAMH     float64 `yaml:"reference_amh"`
}

// BranchCoefficients are the per-method rates after fertilization.
type BranchCoefficients struct {
	CleavageRate           float64 `yaml:"cleavage_rate"`
	BlastulationMultiplier float64 `yaml:"blastulation_multiplier"`
}

// DiagnosisCoefficients are the diagnosis-keyed tables.
type DiagnosisCoefficients struct {
	OocyteMultiplier          float64 `yaml:"oocyte_multiplier"`
	ConventionalFertilization float64 `yaml:"conventional_fertilization"`
	ICSIFertilization         float64 `yaml:"icsi_fertilization"`
}

// StageSpreads are the range half-widths per stage.
type StageSpreads struct {
	Oocytes            float64 `yaml:"oocytes"`
	MatureOocytes      float64 `yaml:"mature_oocytes"`
	Fertilized         float64 `yaml:"fertilized"`
	Day3Embryos        float64 `yaml:"day3_embryos"`
	Blastocysts        float64 `yaml:"blastocysts"`
	EuploidBlastocysts float64 `yaml:"euploid_blastocysts"`
}

// PercentileBand labels estimates whose ratio to the reference is below Below.
type PercentileBand struct {
	Below float64 `yaml:"below"`
	Label string  `yaml:"label"`
}

// DefaultCoefficients returns the embedded model.
func DefaultCoefficients() (*Coefficients, error) {
	return ParseCoefficients(defaultCoefficientsYAML)
}

// LoadCoefficients reads a YAML override file. An empty path returns the embedded model.
func LoadCoefficients(path string) (*Coefficients, error) {
	if path == "" {
		return DefaultCoefficients()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coefficients file: %w", err)
	}
	return ParseCoefficients(data)
}

// ParseCoefficients decodes and validates a YAML coefficient table.
func ParseCoefficients(data []byte) (*Coefficients, error) {
	var c Coefficients
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse coefficients: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges and table completeness.
func (c *Coefficients) Validate() error {
	var errs []error
	rate := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, v))
		}
	}
	positive := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}

	m := c.OocyteModel
	positive("oocyte_model.base_oocytes", m.BaseOocytes)
	positive("oocyte_model.reference_amh", m.ReferenceAMH)
	positive("oocyte_model.amh_exponent", m.AMHExponent)
	positive("oocyte_model.estradiol_per_oocyte", m.EstradiolPerOocyte)
	positive("oocyte_model.max_oocytes", m.MaxOocytes)
	rate("oocyte_model.amh_weight", m.AMHWeight)

	rate("maturity_rate", c.MaturityRate)
	rate("male_factor_conventional_multiplier", c.MaleFactorConventionalMultiplier)
	rate("prior_cycles.penalty_per_cycle", c.PriorCycles.PenaltyPerCycle)
	positive("prior_cycles.floor", c.PriorCycles.Floor)
	rate("prior_cycles.floor", c.PriorCycles.Floor)

	if err := validateBands("bmi_bands", len(c.BMIBands), func(i int) float64 { return c.BMIBands[i].Below }); err != nil {
		errs = append(errs, err)
	}
	for i, b := range c.BMIBands {
		positive(fmt.Sprintf("bmi_bands[%d].factor", i), b.Factor)
	}
	if err := validateBands("percentile_bands", len(c.PercentileBands), func(i int) float64 { return c.PercentileBands[i].Below }); err != nil {
		errs = append(errs, err)
	}

	for _, b := range domain.AllAgeBrackets {
		a, ok := c.AgeBrackets[b]
		if !ok {
			errs = append(errs, fmt.Errorf("age_brackets.%s is missing", b))
			continue
		}
		positive(fmt.Sprintf("age_brackets.%s.oocyte_multiplier", b), a.OocyteMultiplier)
		positive(fmt.Sprintf("age_brackets.%s.reference_amh", b), a.ReferenceAMH)
		rate(fmt.Sprintf("age_brackets.%s.blastulation_rate", b), a.BlastulationRate)
		rate(fmt.Sprintf("age_brackets.%s.euploidy_rate", b), a.EuploidyRate)
	}

	for _, method := range []domain.FertilizationMethod{domain.MethodConventional, domain.MethodICSI} {
		br, ok := c.Branches[method]
		if !ok {
			errs = append(errs, fmt.Errorf("branches.%s is missing", method))
			continue
		}
		rate(fmt.Sprintf("branches.%s.cleavage_rate", method), br.CleavageRate)
		rate(fmt.Sprintf("branches.%s.blastulation_multiplier", method), br.BlastulationMultiplier)
	}

	for _, info := range domain.AllDiagnoses() {
		d, ok := c.Diagnoses[info.Key]
		if !ok {
			errs = append(errs, fmt.Errorf("diagnoses.%s is missing", info.Key))
			continue
		}
		positive(fmt.Sprintf("diagnoses.%s.oocyte_multiplier", info.Key), d.OocyteMultiplier)
		rate(fmt.Sprintf("diagnoses.%s.conventional_fertilization", info.Key), d.ConventionalFertilization)
		rate(fmt.Sprintf("diagnoses.%s.icsi_fertilization", info.Key), d.ICSIFertilization)
	}

	s := c.Spreads
	rate("spreads.oocytes", s.Oocytes)
	rate("spreads.mature_oocytes", s.MatureOocytes)
	rate("spreads.fertilized", s.Fertilized)
	rate("spreads.day3_embryos", s.Day3Embryos)
	rate("spreads.blastocysts", s.Blastocysts)
	rate("spreads.euploid_blastocysts", s.EuploidBlastocysts)

	if len(errs) > 0 {
		return fmt.Errorf("invalid coefficients: %w", errors.Join(errs...))
	}
	return nil
}

// validateBands requires strictly ascending upper bounds ending at +Inf.
func validateBands(name string, n int, below func(int) float64) error {
	if n == 0 {
		return fmt.Errorf("%s must not be empty", name)
	}
	for i := 1; i < n; i++ {
		if below(i) <= below(i-1) {
			return fmt.Errorf("%s must be in ascending order", name)
		}
	}
	if !math.IsInf(below(n-1), 1) {
		return fmt.Errorf("%s must end with an open band (below: .inf)", name)
	}
	return nil
}
