package domain

import (
	"fmt"
	"strings"
)

// Diagnosis is the primary infertility diagnosis for a cycle.
type Diagnosis string

const (
	DiagnosisUnexplained              Diagnosis = "unexplained"
	DiagnosisMaleFactor               Diagnosis = "male_factor"
	DiagnosisTubalFactor              Diagnosis = "tubal_factor"
	DiagnosisEndometriosis            Diagnosis = "endometriosis"
	DiagnosisPCOS                     Diagnosis = "pcos"
	DiagnosisDiminishedOvarianReserve Diagnosis = "diminished_ovarian_reserve"
	DiagnosisOvulatoryDysfunction     Diagnosis = "ovulatory_dysfunction"
	DiagnosisUterineFactor            Diagnosis = "uterine_factor"
	DiagnosisMultipleFactors          Diagnosis = "multiple_factors"
	DiagnosisRecurrentPregnancyLoss   Diagnosis = "recurrent_pregnancy_loss"
	DiagnosisGeneticTesting           Diagnosis = "genetic_testing"
	DiagnosisFertilityPreservation    Diagnosis = "fertility_preservation"
	DiagnosisOther                    Diagnosis = "other"
)

// DiagnosisInfo describes one catalogue entry.
type DiagnosisInfo struct {
	Key         Diagnosis `json:"key"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
}

var diagnosisCatalogue = []DiagnosisInfo{
	{DiagnosisUnexplained, "Unexplained infertility", "No cause identified after standard evaluation"},
	{DiagnosisMaleFactor, "Male factor", "Abnormal semen parameters in the partner"},
	{DiagnosisTubalFactor, "Tubal factor", "Blocked or damaged fallopian tubes"},
	{DiagnosisEndometriosis, "Endometriosis", "Endometrial tissue outside the uterus"},
	{DiagnosisPCOS, "Polycystic ovary syndrome (PCOS)", "Anovulation with high follicle counts"},
	{DiagnosisDiminishedOvarianReserve, "Diminished ovarian reserve", "Reduced number of remaining oocytes"},
	{DiagnosisOvulatoryDysfunction, "Ovulatory dysfunction", "Irregular or absent ovulation, not PCOS"},
	{DiagnosisUterineFactor, "Uterine factor", "Structural uterine or endometrial problem"},
	{DiagnosisMultipleFactors, "Multiple factors", "More than one contributing diagnosis"},
	{DiagnosisRecurrentPregnancyLoss, "Recurrent pregnancy loss", "Two or more prior pregnancy losses"},
	{DiagnosisGeneticTesting, "Genetic testing (PGT-M/SR)", "IVF performed for embryo genetic testing"},
	{DiagnosisFertilityPreservation, "Fertility preservation", "Oocyte or embryo banking"},
	{DiagnosisOther, "Other", "Any other diagnosis"},
}

// diagnosisIndex is built once at load time and keyed by every accepted spelling.
var diagnosisIndex = buildDiagnosisIndex()

func buildDiagnosisIndex() map[string]DiagnosisInfo {
	idx := make(map[string]DiagnosisInfo, len(diagnosisCatalogue)*3)
	for _, info := range diagnosisCatalogue {
		idx[normalizeDiagnosisKey(string(info.Key))] = info
		idx[normalizeDiagnosisKey(info.DisplayName)] = info
	}
	// common shorthands
	idx["dor"] = idx[normalizeDiagnosisKey(string(DiagnosisDiminishedOvarianReserve))]
	idx["rpl"] = idx[normalizeDiagnosisKey(string(DiagnosisRecurrentPregnancyLoss))]
	idx["pgt"] = idx[normalizeDiagnosisKey(string(DiagnosisGeneticTesting))]
	idx["polycystic_ovary_syndrome"] = idx[normalizeDiagnosisKey(string(DiagnosisPCOS))]
	return idx
}

func normalizeDiagnosisKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	r := strings.NewReplacer("-", "_", " ", "_", "(", "", ")", "", "/", "_")
	return r.Replace(s)
}

// AllDiagnoses returns the catalogue in display order.
func AllDiagnoses() []DiagnosisInfo {
	out := make([]DiagnosisInfo, len(diagnosisCatalogue))
	copy(out, diagnosisCatalogue)
	return out
}

// ParseDiagnosis resolves a key, display name or shorthand. Empty input is Unexplained.
func ParseDiagnosis(s string) (Diagnosis, error) {
	if strings.TrimSpace(s) == "" {
		return DiagnosisUnexplained, nil
	}
	info, ok := diagnosisIndex[normalizeDiagnosisKey(s)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDiagnosis, s)
	}
	return info.Key, nil
}

// IsValid reports whether d is a catalogue key.
func (d Diagnosis) IsValid() bool {
	_, ok := diagnosisIndex[string(d)]
	return ok && diagnosisIndex[string(d)].Key == d
}

// DisplayName returns the human-readable name of the diagnosis.
func (d Diagnosis) DisplayName() string {
	if info, ok := diagnosisIndex[string(d)]; ok {
		return info.DisplayName
	}
	return string(d)
}

// String returns the catalogue key.
func (d Diagnosis) String() string {
	return string(d)
}
