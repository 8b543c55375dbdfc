package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	tests := []struct {
		input   string
		want    Unit
		wantErr bool
	}{
		{"ng/mL", NgPerML, false},
		{"NG/ML", NgPerML, false},
		{"pmol/L", PmolPerL, false},
		{" pmol / l ", PmolPerL, false},
		{"pg/mL", PgPerML, false},
		{"", "", false},
		{"mg/dL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseUnit(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertAMH(t *testing.T) {
	got, err := ConvertAMH(21.4, PmolPerL, NgPerML)
	require.NoError(t, err)
	assert.InDelta(t, 2.996, got, 1e-9)

	got, err = ConvertAMH(3.0, NgPerML, PmolPerL)
	require.NoError(t, err)
	assert.InDelta(t, 21.428571428571, got, 1e-9)

	got, err = ConvertAMH(5, NgPerML, NgPerML)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestConvertAMH_RoundTrip(t *testing.T) {
	for _, pmol := range []float64{0.5, 3.0, 7.1, 21.4, 50, 142.8, 357} {
		ng, err := ConvertAMH(pmol, PmolPerL, NgPerML)
		require.NoError(t, err)

		back, err := ConvertAMH(ng, NgPerML, PmolPerL)
		require.NoError(t, err)
		assert.InDelta(t, pmol, back, 1e-9, "round trip of %v pmol/L", pmol)
	}
}

func TestConvertEstradiol(t *testing.T) {
	got, err := ConvertEstradiol(1000, PmolPerL, PgPerML)
	require.NoError(t, err)
	assert.InDelta(t, 272.0, got, 1e-9)

	back, err := ConvertEstradiol(got, PgPerML, PmolPerL)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, back, 1e-9)
}

func TestConvert_RejectsForeignUnits(t *testing.T) {
	_, err := ConvertAMH(1, PgPerML, NgPerML)
	assert.Error(t, err)

	_, err = ConvertEstradiol(1, NgPerML, PgPerML)
	assert.Error(t, err)
}

func TestToCanonical_EmptyUnit(t *testing.T) {
	got, err := AMHToCanonical(2.5, "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	got, err = EstradiolToCanonical(1800, "")
	require.NoError(t, err)
	assert.Equal(t, 1800.0, got)
}
