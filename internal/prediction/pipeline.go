// Package prediction implements the staged IVF outcome funnel: oocyte yield, maturity,
// fertilization by conventional insemination and ICSI, cleavage, blastulation and euploidy.
//
// Every stage is a closed-form function of the previous stage and coefficient tables keyed
// by age bracket and diagnosis. The pipeline assumes validated inputs; gating is the
// caller's responsibility.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ivf-outcome-server/internal/domain"
)

// Pipeline computes prediction funnels. It is immutable after construction and safe for
// concurrent use.
type Pipeline struct {
	coeffs *Coefficients
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a pipeline over the given coefficients.
func NewPipeline(c *Coefficients, opts ...Option) (*Pipeline, error) {
	if c == nil {
		return nil, errors.New("coefficients are required")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{coeffs: c, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewDefaultPipeline creates a pipeline over the embedded coefficients.
func NewDefaultPipeline(opts ...Option) (*Pipeline, error) {
	c, err := DefaultCoefficients()
	if err != nil {
		return nil, err
	}
	return NewPipeline(c, opts...)
}

// ModelVersion identifies the coefficient table in use.
func (p *Pipeline) ModelVersion() string {
	return p.coeffs.Version
}

// Predict runs the entry point selected by in.Mode after a structural check.
func (p *Pipeline) Predict(in domain.PredictionInputs) (domain.PredictionResults, error) {
	if err := in.Validate(); err != nil {
		return domain.PredictionResults{}, err
	}
	switch in.Mode {
	case domain.PostRetrieval:
		return p.PredictPostRetrieval(in), nil
	case domain.PreRetrieval:
		return p.PredictPreRetrieval(in), nil
	default:
		return domain.PredictionResults{}, fmt.Errorf("predict: %w", domain.ErrInvalidMode)
	}
}

// PredictPreRetrieval runs the full funnel from age, AMH, estradiol, BMI, diagnosis and
// prior cycles.
func (p *Pipeline) PredictPreRetrieval(in domain.PredictionInputs) domain.PredictionResults {
	bracket := in.AgeBracket()
	oocytes := p.oocyteYield(in)
	f := p.funnelFrom(oocytes, oocytes*p.coeffs.MaturityRate, bracket, in.Diagnosis, in.MaleFactor)
	return p.results(domain.PreRetrieval, bracket, f, false, false)
}

// PredictPostRetrieval resumes from the known retrieved count, and from the known mature
// count when one was recorded.
func (p *Pipeline) PredictPostRetrieval(in domain.PredictionInputs) domain.PredictionResults {
	bracket := in.AgeBracket()

	var oocytes float64
	if in.OocyteCount != nil {
		oocytes = sanitize(float64(*in.OocyteCount))
	}
	mature := oocytes * p.coeffs.MaturityRate
	knownMature := in.MatureOocytes != nil
	if knownMature {
		mature = math.Min(sanitize(float64(*in.MatureOocytes)), oocytes)
	}

	f := p.funnelFrom(oocytes, mature, bracket, in.Diagnosis, in.MaleFactor)
	return p.results(domain.PostRetrieval, bracket, f, true, knownMature)
}

// ExpectedEstradiol estimates peak estradiol (pg/mL) from the AMH-driven yield alone.
func (p *Pipeline) ExpectedEstradiol(age, amh float64) float64 {
	return p.amhOocytes(domain.BracketForAge(age), amh) * p.coeffs.OocyteModel.EstradiolPerOocyte
}

// funnel carries unrounded stage values.
type funnel struct {
	oocytes      float64
	mature       float64
	conventional branchValues
	icsi         branchValues
}

type branchValues struct {
	fertilized float64
	day3       float64
	blastocyst float64
	euploid    float64
}

func (p *Pipeline) funnelFrom(oocytes, mature float64, bracket domain.AgeBracket, dx domain.Diagnosis, maleFactor bool) funnel {
	return funnel{
		oocytes:      oocytes,
		mature:       mature,
		conventional: p.branch(domain.MethodConventional, mature, bracket, dx, maleFactor),
		icsi:         p.branch(domain.MethodICSI, mature, bracket, dx, maleFactor),
	}
}

func (p *Pipeline) branch(method domain.FertilizationMethod, mature float64, bracket domain.AgeBracket, dx domain.Diagnosis, maleFactor bool) branchValues {
	d := p.diagnosis(dx)
	br := p.coeffs.Branches[method]
	age := p.coeffs.AgeBrackets[bracket]

	rate := d.ICSIFertilization
	if method == domain.MethodConventional {
		rate = d.ConventionalFertilization
		if maleFactor {
			rate *= p.coeffs.MaleFactorConventionalMultiplier
		}
	}

	var b branchValues
	b.fertilized = sanitize(mature * rate)
	b.day3 = sanitize(b.fertilized * br.CleavageRate)
	b.blastocyst = sanitize(b.day3 * age.BlastulationRate * br.BlastulationMultiplier)
	b.euploid = sanitize(b.blastocyst * age.EuploidyRate)
	return b
}

// oocyteYield is stage 1. BMI only affects this stage.
func (p *Pipeline) oocyteYield(in domain.PredictionInputs) float64 {
	m := p.coeffs.OocyteModel
	est := p.amhOocytes(in.AgeBracket(), in.AMH)
	if in.Estradiol != nil && *in.Estradiol > 0 {
		e2Est := *in.Estradiol / m.EstradiolPerOocyte
		est = m.AMHWeight*est + (1-m.AMHWeight)*e2Est
	}
	est *= p.bmiFactor(in.BMI) * p.priorCycleFactor(in.PriorCycles) * p.diagnosis(in.Diagnosis).OocyteMultiplier
	return math.Min(sanitize(est), m.MaxOocytes)
}

func (p *Pipeline) amhOocytes(bracket domain.AgeBracket, amh float64) float64 {
	if amh <= 0 {
		return 0
	}
	m := p.coeffs.OocyteModel
	est := m.BaseOocytes * math.Pow(amh/m.ReferenceAMH, m.AMHExponent) * p.coeffs.AgeBrackets[bracket].OocyteMultiplier
	return math.Min(sanitize(est), m.MaxOocytes)
}

func (p *Pipeline) bmiFactor(bmi *float64) float64 {
	if bmi == nil {
		return 1
	}
	for _, band := range p.coeffs.BMIBands {
		if *bmi < band.Below {
			return band.Factor
		}
	}
	return 1
}

func (p *Pipeline) priorCycleFactor(n int) float64 {
	if n <= 0 {
		return 1
	}
	pc := p.coeffs.PriorCycles
	return math.Max(pc.Floor, 1-pc.PenaltyPerCycle*float64(n))
}

// diagnosis falls back to the unexplained row for unknown keys.
func (p *Pipeline) diagnosis(dx domain.Diagnosis) DiagnosisCoefficients {
	if d, ok := p.coeffs.Diagnoses[dx]; ok {
		return d
	}
	return p.coeffs.Diagnoses[domain.DiagnosisUnexplained]
}

// referenceFunnel is the typical patient of the bracket: reference AMH, unexplained
// infertility, no estradiol, BMI or male factor.
func (p *Pipeline) referenceFunnel(bracket domain.AgeBracket) funnel {
	oocytes := p.amhOocytes(bracket, p.coeffs.AgeBrackets[bracket].ReferenceAMH)
	return p.funnelFrom(oocytes, oocytes*p.coeffs.MaturityRate, bracket, domain.DiagnosisUnexplained, false)
}

func (p *Pipeline) results(mode domain.PredictionMode, bracket domain.AgeBracket, f funnel, exactOocytes, exactMature bool) domain.PredictionResults {
	ref := p.referenceFunnel(bracket)
	s := p.coeffs.Spreads

	return domain.PredictionResults{
		Mode:          mode,
		AgeBracket:    bracket,
		Oocytes:       p.stage(f.oocytes, ref.oocytes, s.Oocytes, exactOocytes),
		MatureOocytes: p.stage(f.mature, ref.mature, s.MatureOocytes, exactMature),
		Conventional:  p.branchResult(domain.MethodConventional, f.conventional, ref.conventional),
		ICSI:          p.branchResult(domain.MethodICSI, f.icsi, ref.icsi),
		ModelVersion:  p.coeffs.Version,
		ComputedAt:    p.now().UTC(),
	}
}

func (p *Pipeline) branchResult(method domain.FertilizationMethod, b, ref branchValues) domain.FertilizationBranch {
	s := p.coeffs.Spreads
	return domain.FertilizationBranch{
		Method:     method,
		Fertilized: p.stage(b.fertilized, ref.fertilized, s.Fertilized, false),
		Day3:       p.stage(b.day3, ref.day3, s.Day3Embryos, false),
		Blastocyst: p.stage(b.blastocyst, ref.blastocyst, s.Blastocysts, false),
		Euploid:    p.stage(b.euploid, ref.euploid, s.EuploidBlastocysts, false),
	}
}

// stage rounds the estimate and its range to one decimal. Rounding is monotone, so
// the funnel ordering and bracketing survive it.
func (p *Pipeline) stage(value, ref, spread float64, exact bool) domain.StageResult {
	v := sanitize(value)
	lower, upper := v, v
	if !exact {
		lower = math.Max(0, v*(1-spread))
		upper = v * (1 + spread)
	}
	return domain.StageResult{
		Predicted:  round1(v),
		Lower:      round1(lower),
		Upper:      round1(upper),
		Percentile: p.percentile(v, ref),
	}
}

func (p *Pipeline) percentile(value, ref float64) string {
	if ref <= 0 {
		return "No age-group reference available"
	}
	ratio := value / ref
	for _, band := range p.coeffs.PercentileBands {
		if ratio < band.Below {
			return band.Label
		}
	}
	return p.coeffs.PercentileBands[len(p.coeffs.PercentileBands)-1].Label
}

// sanitize clamps negatives and non-finite values to zero.
func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
