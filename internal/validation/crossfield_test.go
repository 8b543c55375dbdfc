package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ivf-outcome-server/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestCheckCrossField(t *testing.T) {
	v := NewValidator(flatModel{perAMH: 600})

	tests := []struct {
		name     string
		in       CrossFieldInputs
		warnings int
		contains string
	}{
		{
			name: "typical",
			in:   CrossFieldInputs{Age: 25, AMH: 3, Estradiol: ptr(1800), Diagnosis: domain.DiagnosisUnexplained},
		},
		{
			name:     "low AMH when young",
			in:       CrossFieldInputs{Age: 28, AMH: 0.6, Diagnosis: domain.DiagnosisUnexplained},
			warnings: 1,
			contains: "unusually low",
		},
		{
			name: "low AMH when young explained by DOR",
			in:   CrossFieldInputs{Age: 28, AMH: 0.6, Diagnosis: domain.DiagnosisDiminishedOvarianReserve},
		},
		{
			name:     "high AMH at advanced age",
			in:       CrossFieldInputs{Age: 42, AMH: 6.5, Diagnosis: domain.DiagnosisTubalFactor},
			warnings: 1,
			contains: "unusually high",
		},
		{
			name: "high AMH at advanced age explained by PCOS",
			in:   CrossFieldInputs{Age: 42, AMH: 6.5, Diagnosis: domain.DiagnosisPCOS},
		},
		{
			name:     "DOR with high AMH",
			in:       CrossFieldInputs{Age: 36, AMH: 4.5, Diagnosis: domain.DiagnosisDiminishedOvarianReserve},
			warnings: 1,
			contains: "diminished ovarian reserve",
		},
		{
			name:     "PCOS with low AMH",
			in:       CrossFieldInputs{Age: 36, AMH: 0.8, Diagnosis: domain.DiagnosisPCOS},
			warnings: 1,
			contains: "PCOS",
		},
		{
			name:     "estradiol far below expectation",
			in:       CrossFieldInputs{Age: 30, AMH: 3, Estradiol: ptr(300), Diagnosis: domain.DiagnosisUnexplained},
			warnings: 1,
			contains: "far below",
		},
		{
			name:     "estradiol far above expectation",
			in:       CrossFieldInputs{Age: 30, AMH: 3, Estradiol: ptr(6000), Diagnosis: domain.DiagnosisUnexplained},
			warnings: 1,
			contains: "far above",
		},
		{
			name:     "three findings",
			in:       CrossFieldInputs{Age: 30, AMH: 0.5, Estradiol: ptr(4000), Diagnosis: domain.DiagnosisPCOS},
			warnings: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.CheckCrossField(tt.in)
			assert.Len(t, got, tt.warnings)
			if tt.contains != "" {
				assert.Contains(t, got[0], tt.contains)
			}
		})
	}
}

func TestCheckCrossField_NoModelSkipsEstradiol(t *testing.T) {
	v := NewValidator(nil)
	got := v.CheckCrossField(CrossFieldInputs{Age: 30, AMH: 3, Estradiol: ptr(20000), Diagnosis: domain.DiagnosisUnexplained})
	assert.Empty(t, got)
}
