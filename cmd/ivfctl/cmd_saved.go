package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/report"
	"github.com/ivf-outcome-server/internal/service"
)

var (
	saveName     string
	saveNotes    string
	listLimit    int
	listOffset   int
	exportPath   string
	reportFormat string
	reportPath   string
)

// savedCmd manages saved predictions
var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved predictions",
	Long: `List and manage predictions kept in the local data directory.

Subcommands:
  add     - Predict and save under a name
  list    - List saved predictions, newest first
  show    - Show one saved prediction
  delete  - Delete a saved prediction
  export  - Write all saved predictions as JSON
  import  - Load saved predictions from an export file`,
	RunE: runSavedList,
}

var savedAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Predict and save under a name",
	RunE:  runSavedAdd,
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved predictions",
	RunE:  runSavedList,
}

var savedShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved prediction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavedShow,
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved prediction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavedDelete,
}

var savedExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export saved predictions as JSON",
	Long:  "Export saved predictions as JSON. Without --file the export is written to the exports folder of the data directory.",
	RunE:  runSavedExport,
}

var savedImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import saved predictions from an export file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavedImport,
}

// reportCmd renders a saved prediction for printing or sharing
var reportCmd = &cobra.Command{
	Use:   "report <id>",
	Short: "Render a saved prediction as Markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	addFormFlags(savedAddCmd)
	savedAddCmd.Flags().StringVar(&saveName, "name", "", "Name for the saved prediction (required)")
	savedAddCmd.Flags().StringVar(&saveNotes, "notes", "", "Free-text notes")

	for _, cmd := range []*cobra.Command{savedCmd, savedListCmd} {
		cmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum entries to list")
		cmd.Flags().IntVar(&listOffset, "offset", 0, "Entries to skip")
	}
	savedExportCmd.Flags().StringVarP(&exportPath, "file", "f", "", "Output file (\"-\" for stdout)")

	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "Report format: markdown or html")
	reportCmd.Flags().StringVarP(&reportPath, "file", "f", "", "Write the report to a file instead of stdout")

	savedCmd.AddCommand(savedAddCmd)
	savedCmd.AddCommand(savedListCmd)
	savedCmd.AddCommand(savedShowCmd)
	savedCmd.AddCommand(savedDeleteCmd)
	savedCmd.AddCommand(savedExportCmd)
	savedCmd.AddCommand(savedImportCmd)
}

func runSavedAdd(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	saved, err := application.Service.SavePrediction(ctx, service.SaveRequest{
		Name:  saveName,
		Notes: saveNotes,
		Form:  currentForm(cmd),
	})
	var failed *domain.ValidationFailedError
	if errors.As(err, &failed) {
		printReport(cmd.OutOrStdout(), failed.Report)
		return errors.New("inputs failed validation")
	}
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), saved)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %q as %s\n", saved.Name, saved.ID)
	return nil
}

func runSavedList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	page, err := application.Service.ListSaved(ctx, listLimit, listOffset)
	if err != nil {
		return fmt.Errorf("failed to list saved predictions: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return printJSON(out, page)
	}
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No saved predictions found.")
		return nil
	}
	for _, s := range page.Items {
		fmt.Fprintf(out, "%s  %s  %-14s %-6s %s\n",
			s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Inputs.Mode, s.Confidence, s.Name)
	}
	fmt.Fprintf(out, "\n%d of %d shown\n", len(page.Items), page.Total)
	return nil
}

func runSavedShow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	saved, err := application.Service.GetSaved(ctx, args[0])
	if err != nil {
		return savedError(args[0], err)
	}
	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), saved)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), report.Markdown(report.FromSaved(saved)))
	return err
}

func runSavedDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Service.DeleteSaved(ctx, args[0]); err != nil {
		return savedError(args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runSavedExport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if exportPath == "-" {
		return application.Service.ExportSaved(ctx, cmd.OutOrStdout())
	}

	path := exportPath
	if path == "" {
		name := fmt.Sprintf("predictions-%s.json", time.Now().UTC().Format("20060102-150405"))
		path = filepath.Join(liteConfig().ExportDir(), name)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := application.Service.ExportSaved(ctx, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to export saved predictions: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
	return nil
}

func runSavedImport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	res, err := application.Service.ImportSaved(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to import saved predictions: %w", err)
	}
	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d already present\n", res.Imported, res.Skipped)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	saved, err := application.Service.GetSaved(ctx, args[0])
	if err != nil {
		return savedError(args[0], err)
	}
	body, err := report.Render(report.FromSaved(saved), format)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if reportPath == "" {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(reportPath, body, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportPath)
	return nil
}

func savedError(id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("saved prediction %s not found", id)
	}
	return err
}
