// Package domain contains the core entities for IVF outcome estimation: patient inputs,
// per-field validation outcomes, the staged prediction funnel and saved snapshots.
//
// The funnel follows the usual laboratory sequence of an IVF cycle: retrieved oocytes,
// mature (MII) oocytes, fertilized embryos (conventional insemination or ICSI), day-3
// cleavage embryos, blastocysts and euploid blastocysts.
package domain

import (
	"errors"
	"strings"
)

// ConfidenceLevel represents how much trust the engine places in an input or prediction.
type ConfidenceLevel string

const (
	HIGH   ConfidenceLevel = "High"
	MEDIUM ConfidenceLevel = "Medium"
	LOW    ConfidenceLevel = "Low"
)

// Validation errors for clinical data integrity
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidDiagnosis  = errors.New("invalid diagnosis")
	ErrInvalidConfidence = errors.New("invalid confidence level")
	ErrInvalidMode       = errors.New("invalid prediction mode")
	ErrInvalidUnit       = errors.New("invalid unit")
)

// IsValid validates the confidence level.
func (cl ConfidenceLevel) IsValid() bool {
	switch cl {
	case HIGH, MEDIUM, LOW:
		return true
	default:
		return false
	}
}

// String returns the string representation of the confidence level.
func (cl ConfidenceLevel) String() string {
	return string(cl)
}

func (cl ConfidenceLevel) rank() int {
	switch cl {
	case HIGH:
		return 2
	case MEDIUM:
		return 1
	default:
		return 0
	}
}

// Downgrade lowers the confidence by n tiers. Low is the floor.
func (cl ConfidenceLevel) Downgrade(n int) ConfidenceLevel {
	r := cl.rank() - n
	switch {
	case r >= 2:
		return HIGH
	case r == 1:
		return MEDIUM
	default:
		return LOW
	}
}

// MinConfidence returns the weakest of the given levels. An empty list is High.
func MinConfidence(levels ...ConfidenceLevel) ConfidenceLevel {
	out := HIGH
	for _, l := range levels {
		if l == "" {
			continue
		}
		if l.rank() < out.rank() {
			out = l
		}
	}
	return out
}

// PredictionMode selects the pipeline entry point.
type PredictionMode string

const (
	// PreRetrieval runs the full funnel from hormone levels.
	PreRetrieval PredictionMode = "pre_retrieval"
	// PostRetrieval resumes from a known retrieved oocyte count.
	PostRetrieval PredictionMode = "post_retrieval"
)

// IsValid validates the prediction mode.
func (m PredictionMode) IsValid() bool {
	return m == PreRetrieval || m == PostRetrieval
}

// ParsePredictionMode accepts the canonical names plus a few common spellings.
// An empty string selects PreRetrieval.
func ParsePredictionMode(s string) (PredictionMode, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "", "pre_retrieval", "pre", "prediction":
		return PreRetrieval, nil
	case "post_retrieval", "post", "oocytes":
		return PostRetrieval, nil
	default:
		return "", ErrInvalidMode
	}
}

// AgeBracket groups patient ages for the lookup tables.
type AgeBracket string

const (
	AgeUnder30 AgeBracket = "under_30"
	Age30To34  AgeBracket = "30_34"
	Age35To37  AgeBracket = "35_37"
	Age38To40  AgeBracket = "38_40"
	Age41To42  AgeBracket = "41_42"
	AgeOver42  AgeBracket = "over_42"
)

// AllAgeBrackets lists the brackets in ascending age order.
var AllAgeBrackets = []AgeBracket{AgeUnder30, Age30To34, Age35To37, Age38To40, Age41To42, AgeOver42}

// BracketForAge maps an age in years onto its bracket.
func BracketForAge(age float64) AgeBracket {
	switch {
	case age < 30:
		return AgeUnder30
	case age < 35:
		return Age30To34
	case age < 38:
		return Age35To37
	case age < 41:
		return Age38To40
	case age < 43:
		return Age41To42
	default:
		return AgeOver42
	}
}

// Label returns a human-readable age range.
func (b AgeBracket) Label() string {
	switch b {
	case AgeUnder30:
		return "under 30"
	case Age30To34:
		return "30-34"
	case Age35To37:
		return "35-37"
	case Age38To40:
		return "38-40"
	case Age41To42:
		return "41-42"
	case AgeOver42:
		return "over 42"
	default:
		return string(b)
	}
}
