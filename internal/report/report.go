// Package report renders a prediction as a Markdown or HTML document for sharing with a clinician.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ivf-outcome-server/internal/domain"
)

// Disclaimer closes every report.
const Disclaimer = "These estimates are statistical averages for patients with similar inputs. " +
	"They are not a guarantee of any individual outcome and do not replace advice from your fertility specialist."

// Format selects the output encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "markdown", "md" or "html". Empty selects Markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Subject is everything a report shows.
type Subject struct {
	Title      string
	Notes      string
	Inputs     domain.PredictionInputs
	Results    domain.PredictionResults
	Confidence domain.ConfidenceLevel
	Warnings   []string
	CreatedAt  time.Time
}

// FromSaved builds a subject from a saved prediction.
func FromSaved(s *domain.SavedPrediction) Subject {
	return Subject{
		Title:      s.Name,
		Notes:      s.Notes,
		Inputs:     s.Inputs,
		Results:    s.Results,
		Confidence: s.Confidence,
		Warnings:   s.Warnings,
		CreatedAt:  s.CreatedAt,
	}
}

// FromPrediction builds a subject from a freshly computed prediction.
func FromPrediction(title string, p *domain.Prediction) Subject {
	return Subject{
		Title:      title,
		Inputs:     p.Inputs,
		Results:    p.Results,
		Confidence: p.Confidence,
		Warnings:   p.Warnings,
		CreatedAt:  p.Results.ComputedAt,
	}
}

// Render produces the report in the requested format.
func Render(s Subject, f Format) ([]byte, error) {
	md := Markdown(s)
	if f != FormatHTML {
		return []byte(md), nil
	}
	return HTML(md)
}

// Markdown renders the report body.
func Markdown(s Subject) string {
	var b strings.Builder

	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "IVF outcome estimate"
	}
	fmt.Fprintf(&b, "# %s\n\n", escapeInline(title))
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "_Generated %s · model %s_\n\n", s.CreatedAt.UTC().Format("2006-01-02 15:04 MST"), s.Results.ModelVersion)
	}
	if notes := strings.TrimSpace(s.Notes); notes != "" {
		fmt.Fprintf(&b, "> %s\n\n", escapeInline(notes))
	}

	b.WriteString("## Inputs\n\n")
	b.WriteString("| Input | Value |\n|---|---|\n")
	for _, row := range inputRows(s.Inputs) {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}
	fmt.Fprintf(&b, "\n**Confidence:** %s\n\n", s.Confidence)

	b.WriteString("## Retrieval\n\n")
	b.WriteString("| Stage | Estimate | Range | Compared with age group |\n|---|---|---|---|\n")
	stageRow(&b, "Oocytes retrieved", s.Results.Oocytes)
	stageRow(&b, "Mature oocytes", s.Results.MatureOocytes)
	b.WriteString("\n")

	for _, br := range s.Results.Branches() {
		fmt.Fprintf(&b, "## %s\n\n", branchTitle(br.Method))
		b.WriteString("| Stage | Estimate | Range | Compared with age group |\n|---|---|---|---|\n")
		stageRow(&b, "Fertilized", br.Fertilized)
		stageRow(&b, "Day-3 embryos", br.Day3)
		stageRow(&b, "Blastocysts", br.Blastocyst)
		stageRow(&b, "Euploid blastocysts", br.Euploid)
		b.WriteString("\n")
	}

	if len(s.Warnings) > 0 {
		b.WriteString("## Notes on your inputs\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s\n", escapeInline(w))
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")
	b.WriteString(Disclaimer)
	b.WriteString("\n")
	return b.String()
}

// HTML converts a Markdown report to a standalone HTML page. Raw HTML in the
// source is dropped by goldmark.
func HTML(markdown string) ([]byte, error) {
	var content bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!doctype html><html><head><meta charset='utf-8'><title>IVF outcome estimate</title><style>")
	out.WriteString("body{font-family:system-ui,sans-serif;max-width:820px;margin:2rem auto;padding:0 1rem;color:#1c1917;} ")
	out.WriteString("table{width:100%;border-collapse:collapse;margin-bottom:1rem;} ")
	out.WriteString("th,td{border:1px solid #a8a29e;padding:0.35rem 0.5rem;text-align:left;} ")
	out.WriteString("thead th{background:#f1f5f9;} blockquote{color:#57534e;}")
	out.WriteString("</style></head><body>")
	out.Write(content.Bytes())
	out.WriteString("</body></html>")
	return out.Bytes(), nil
}

func inputRows(in domain.PredictionInputs) [][2]string {
	rows := [][2]string{
		{"Mode", modeLabel(in.Mode)},
		{"Age", fmt.Sprintf("%s years", num(in.Age))},
	}
	if in.Mode == domain.PreRetrieval {
		rows = append(rows, [2]string{"AMH", num(in.AMH) + " ng/mL"})
	}
	if in.Estradiol != nil {
		rows = append(rows, [2]string{"Estradiol", num(*in.Estradiol) + " pg/mL"})
	}
	if in.BMI != nil {
		rows = append(rows, [2]string{"BMI", num(*in.BMI)})
	}
	if in.PriorCycles > 0 {
		rows = append(rows, [2]string{"Prior cycles", fmt.Sprintf("%d", in.PriorCycles)})
	}
	rows = append(rows, [2]string{"Diagnosis", in.Diagnosis.DisplayName()})
	if in.MaleFactor {
		rows = append(rows, [2]string{"Male factor", "yes"})
	}
	if in.OocyteCount != nil {
		rows = append(rows, [2]string{"Oocytes retrieved", fmt.Sprintf("%d", *in.OocyteCount)})
	}
	if in.MatureOocytes != nil {
		rows = append(rows, [2]string{"Mature oocytes", fmt.Sprintf("%d", *in.MatureOocytes)})
	}
	return rows
}

func stageRow(b *strings.Builder, label string, s domain.StageResult) {
	rng := fmt.Sprintf("%s – %s", num(s.Lower), num(s.Upper))
	if s.Lower == s.Upper {
		rng = "exact"
	}
	fmt.Fprintf(b, "| %s | %s | %s | %s |\n", label, num(s.Predicted), rng, escapeInline(s.Percentile))
}

func branchTitle(m domain.FertilizationMethod) string {
	if m == domain.MethodICSI {
		return "ICSI"
	}
	return "Conventional IVF"
}

func modeLabel(m domain.PredictionMode) string {
	if m == domain.PostRetrieval {
		return "After retrieval"
	}
	return "Before retrieval"
}

func num(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// escapeInline keeps user text from breaking table cells or starting block syntax.
func escapeInline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
