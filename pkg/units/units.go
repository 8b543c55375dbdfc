// Package units provides the laboratory units accepted for hormone levels and the
// fixed linear conversions between them.
package units

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit represents a concentration unit.
type Unit string

const (
	NgPerML  Unit = "ng/mL"
	PgPerML  Unit = "pg/mL"
	PmolPerL Unit = "pmol/L"
)

// Canonical units used throughout the engine.
const (
	CanonicalAMH       = NgPerML
	CanonicalEstradiol = PgPerML
)

// Conversion factors into the canonical unit.
var (
	amhPmolToNg       = decimal.RequireFromString("0.14")
	estradiolPmolToPg = decimal.RequireFromString("0.272")
)

// ParseUnit normalizes a unit selector. Empty input yields the zero Unit.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "":
		return "", nil
	case "ng/ml", "ngml", "ng":
		return NgPerML, nil
	case "pg/ml", "pgml", "pg":
		return PgPerML, nil
	case "pmol/l", "pmoll", "pmol":
		return PmolPerL, nil
	default:
		return "", fmt.Errorf("unknown unit %q", s)
	}
}

// ConvertAMH converts an AMH concentration between ng/mL and pmol/L.
func ConvertAMH(value float64, from, to Unit) (float64, error) {
	return convert(value, from, to, NgPerML, amhPmolToNg)
}

// ConvertEstradiol converts an estradiol concentration between pg/mL and pmol/L.
func ConvertEstradiol(value float64, from, to Unit) (float64, error) {
	return convert(value, from, to, PgPerML, estradiolPmolToPg)
}

// AMHToCanonical converts an AMH value entered in unit u to ng/mL.
// An empty unit is taken as already canonical.
func AMHToCanonical(value float64, u Unit) (float64, error) {
	if u == "" {
		u = CanonicalAMH
	}
	return ConvertAMH(value, u, CanonicalAMH)
}

// EstradiolToCanonical converts an estradiol value entered in unit u to pg/mL.
func EstradiolToCanonical(value float64, u Unit) (float64, error) {
	if u == "" {
		u = CanonicalEstradiol
	}
	return ConvertEstradiol(value, u, CanonicalEstradiol)
}

func convert(value float64, from, to, canonical Unit, pmolFactor decimal.Decimal) (float64, error) {
	if from != canonical && from != PmolPerL {
		return 0, fmt.Errorf("unsupported source unit %q (want %s or %s)", from, canonical, PmolPerL)
	}
	if to != canonical && to != PmolPerL {
		return 0, fmt.Errorf("unsupported target unit %q (want %s or %s)", to, canonical, PmolPerL)
	}
	if from == to {
		return value, nil
	}
	d := decimal.NewFromFloat(value)
	if from == PmolPerL {
		return d.Mul(pmolFactor).InexactFloat64(), nil
	}
	return d.DivRound(pmolFactor, 12).InexactFloat64(), nil
}
