package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/report"
)

// form collects patient inputs from flags. Values stay raw strings so that the
// validator sees exactly what was typed.
var (
	form          domain.PredictionForm
	maleFactor    bool
	postRetrieval bool
)

// predictCmd estimates outcomes for one set of inputs
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Estimate the IVF funnel for one patient",
	Long: `Validate the inputs and, if they pass, estimate each funnel stage.

Before retrieval, age and AMH are required. With --post-retrieval the
retrieved oocyte count replaces AMH.`,
	Example: `  ivfctl predict --age 32 --amh 3.0 --estradiol 2100 --diagnosis tubal_factor
  ivfctl predict --post-retrieval --age 38 --oocytes 12 --mature 9 -o json`,
	RunE: runPredict,
}

// validateCmd checks inputs without predicting
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate inputs and show per-field results",
	RunE:  runValidate,
}

// diagnosesCmd lists accepted diagnoses
var diagnosesCmd = &cobra.Command{
	Use:   "diagnoses",
	Short: "List the accepted primary diagnoses",
	RunE:  runDiagnoses,
}

func init() {
	for _, cmd := range []*cobra.Command{predictCmd, validateCmd} {
		addFormFlags(cmd)
	}
}

func addFormFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&form.Age, "age", "", "Patient age in years")
	f.StringVar(&form.AMH, "amh", "", "Anti-Mullerian hormone")
	f.StringVar(&form.AMHUnit, "amh-unit", "", "AMH unit: ng/mL or pmol/L")
	f.StringVar(&form.Estradiol, "estradiol", "", "Peak estradiol")
	f.StringVar(&form.EstradiolUnit, "estradiol-unit", "", "Estradiol unit: pg/mL or pmol/L")
	f.StringVar(&form.BMI, "bmi", "", "Body mass index")
	f.StringVar(&form.PriorCycles, "prior-cycles", "", "Number of prior IVF cycles")
	f.StringVar(&form.Diagnosis, "diagnosis", "", "Primary diagnosis (see 'ivfctl diagnoses')")
	f.BoolVar(&maleFactor, "male-factor", false, "Partner has male-factor infertility")
	f.StringVar(&form.OocyteCount, "oocytes", "", "Retrieved oocyte count")
	f.StringVar(&form.MatureOocytes, "mature", "", "Mature (MII) oocyte count")
	f.BoolVar(&postRetrieval, "post-retrieval", false, "Predict from retrieved oocytes instead of AMH")
}

// currentForm returns the flag values as a form. male_factor is only sent when set.
func currentForm(cmd *cobra.Command) domain.PredictionForm {
	out := form
	out.MaleFactor = nil
	if cmd.Flags().Changed("male-factor") {
		v := maleFactor
		out.MaleFactor = &v
	}
	out.Mode = string(domain.PreRetrieval)
	if postRetrieval {
		out.Mode = string(domain.PostRetrieval)
	}
	return out
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	in := currentForm(cmd)
	var pred *domain.Prediction
	if postRetrieval {
		pred, err = application.Service.PredictPostRetrieval(ctx, in)
	} else {
		pred, err = application.Service.PredictPreRetrieval(ctx, in)
	}

	out := cmd.OutOrStdout()
	var failed *domain.ValidationFailedError
	if errors.As(err, &failed) {
		if outputFormat == "json" {
			_ = printJSON(out, failed.Report)
		} else {
			printReport(out, failed.Report)
		}
		return errors.New("inputs failed validation")
	}
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(out, pred)
	}
	_, err = io.WriteString(out, report.Markdown(report.FromPrediction("IVF outcome estimate", pred)))
	return err
}

func runValidate(cmd *cobra.Command, args []string) error {
	application, err := openApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer application.Close()

	rep := application.Service.Validate(currentForm(cmd))
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		if err := printJSON(out, rep); err != nil {
			return err
		}
	} else {
		printReport(out, &rep)
	}
	if !rep.Valid {
		return errors.New("inputs failed validation")
	}
	return nil
}

func runDiagnoses(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	all := domain.AllDiagnoses()
	if outputFormat == "json" {
		return printJSON(out, all)
	}
	for _, d := range all {
		fmt.Fprintf(out, "%-28s %s\n", d.Key, d.DisplayName)
	}
	return nil
}

func printReport(w io.Writer, rep *domain.ValidationReport) {
	fmt.Fprintf(w, "Mode:       %s\n", rep.Mode)
	fmt.Fprintf(w, "Valid:      %t\n", rep.Valid)
	fmt.Fprintf(w, "Confidence: %s\n\n", rep.Confidence)
	for _, f := range rep.Fields {
		status := "ok"
		if !f.Valid {
			status = "error"
		}
		value := "-"
		if f.Value != nil {
			value = strconv.FormatFloat(*f.Value, 'f', -1, 64)
		}
		fmt.Fprintf(w, "  %-16s %-6s %-10s %s\n", f.Field, status, value, f.Confidence)
		if f.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", f.Error)
		}
		if f.Warning != "" {
			fmt.Fprintf(w, "      warning: %s\n", f.Warning)
		}
	}
	for _, warn := range rep.CrossFieldWarnings {
		fmt.Fprintf(w, "  note: %s\n", warn)
	}
}
