package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/botctl/internal/trainingdata"
	"github.com/spf13/cobra"
)

var (
	dataUser     string
	dataBot      string
	dataIntent   string
	importFormat string
	exportFormat string
	tmplFormat   string
	dataDryRun   bool
	dataUpload   bool
	dataClassify bool
	dataOutput   string
)

// previewLimit caps the examples shown by import --dry-run.
const previewLimit = 20

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage bot training data",
	Long: `Manage the user/bot example pairs a bot is trained on.

Examples:
  botctl data list 7
  botctl data add 7 --user "xin chào" --bot "Chào bạn!" --intent greeting
  botctl data import 7 faq.csv --dry-run
  botctl data import 7 nlu.yml
  botctl data import 7 notes.txt --upload --classify
  botctl data export 7 --format csv -o data.csv
  botctl data template > sample.json`,
}

var dataListCmd = &cobra.Command{
	Use:   "list <bot-id>",
	Short: "List training examples",
	Args:  cobra.ExactArgs(1),
	RunE:  runDataList,
}

var dataAddCmd = &cobra.Command{
	Use:   "add <bot-id>",
	Short: "Add one training example",
	Args:  cobra.ExactArgs(1),
	RunE:  runDataAdd,
}

var dataDeleteCmd = &cobra.Command{
	Use:   "delete <bot-id> <data-id>",
	Short: "Delete one training example",
	Args:  cobra.ExactArgs(2),
	RunE:  runDataDelete,
}

var dataImportCmd = &cobra.Command{
	Use:   "import <bot-id> <file>",
	Short: "Import training examples from json, yaml, csv, txt or markdown",
	Long: `Import training examples from a file.

The format is detected from the extension or the content unless --format is
given. Files are parsed locally and submitted in bulk; --upload sends the raw
file to the platform for server-side parsing instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runDataImport,
}

var dataExportCmd = &cobra.Command{
	Use:   "export <bot-id>",
	Short: "Export training examples as json, yaml or csv",
	Args:  cobra.ExactArgs(1),
	RunE:  runDataExport,
}

var dataTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print a sample training data file",
	Args:  cobra.NoArgs,
	RunE:  runDataTemplate,
}

func init() {
	dataAddCmd.Flags().StringVarP(&dataUser, "user", "u", "", "user message (required)")
	dataAddCmd.Flags().StringVarP(&dataBot, "bot", "b", "", "bot response (required)")
	dataAddCmd.Flags().StringVarP(&dataIntent, "intent", "i", "", "intent label (detected when empty)")
	_ = dataAddCmd.MarkFlagRequired("user")
	_ = dataAddCmd.MarkFlagRequired("bot")

	dataImportCmd.Flags().StringVarP(&importFormat, "format", "f", "", "input format (json, yaml, csv, txt, markdown)")
	dataImportCmd.Flags().BoolVar(&dataDryRun, "dry-run", false, "parse and preview without submitting")
	dataImportCmd.Flags().BoolVar(&dataUpload, "upload", false, "upload the raw file for server-side parsing")
	dataImportCmd.Flags().BoolVar(&dataClassify, "classify", false, "with --upload, let the platform classify intents")

	dataExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format (json, yaml, csv)")
	dataExportCmd.Flags().StringVarP(&dataOutput, "output", "o", "", "output file (default stdout)")

	dataTemplateCmd.Flags().StringVarP(&tmplFormat, "format", "f", "json", "output format (json, yaml, csv)")

	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataAddCmd)
	dataCmd.AddCommand(dataDeleteCmd)
	dataCmd.AddCommand(dataImportCmd)
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataTemplateCmd)
}

func runDataList(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	data, err := api.ListTrainingData(ctx, botID)
	if err != nil {
		return fmt.Errorf("list training data: %w", err)
	}
	if len(data) == 0 {
		fmt.Println("No training data found.")
		return nil
	}

	fmt.Printf("Training data (%d):\n\n", len(data))
	for _, d := range data {
		intent := "-"
		if d.Intent != nil && *d.Intent != "" {
			intent = *d.Intent
		}
		fmt.Printf("#%-6d [%s]\n", d.ID, intent)
		fmt.Printf("  user: %s\n", d.UserMessage)
		fmt.Printf("  bot:  %s\n", d.BotResponse)
	}
	return nil
}

func runDataAdd(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ex := trainingdata.Example{
		User:   strings.TrimSpace(dataUser),
		Bot:    strings.TrimSpace(dataBot),
		Intent: strings.TrimSpace(dataIntent),
	}
	if ex.User == "" || ex.Bot == "" {
		return errors.New("both --user and --bot are required")
	}
	if ex.Intent == "" {
		ex.Intent = trainingdata.DetectIntent(ex.User)
	}

	ctx, cancel := requestContext()
	defer cancel()

	n, err := api.AddTrainingData(ctx, botID, trainingdata.ToItems([]trainingdata.Example{ex}))
	if err != nil {
		return fmt.Errorf("add training data: %w", err)
	}
	fmt.Printf("Added %d example(s) [%s]\n", n, ex.Intent)
	return nil
}

func runDataDelete(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}
	dataID, err := parseID("training data", args[1])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := api.DeleteTrainingData(ctx, botID, dataID); err != nil {
		return fmt.Errorf("delete training data: %w", err)
	}
	fmt.Printf("Deleted training data #%d\n", dataID)
	return nil
}

func runDataImport(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}
	path := args[1]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx, cancel := requestContext()
	defer cancel()

	if dataUpload {
		n, err := api.UploadTrainingFile(ctx, botID, path, bytes.NewReader(content), dataClassify)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		fmt.Printf("Uploaded %s: %d example(s) added\n", path, n)
		return nil
	}

	var format trainingdata.Format
	if importFormat != "" {
		if format, err = trainingdata.ParseFormat(importFormat); err != nil {
			return err
		}
	}

	examples, err := trainingdata.Parse(path, string(content), format)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(examples) == 0 {
		return fmt.Errorf("no training examples found in %s", path)
	}
	logger.Debug("parsed training file", "file", path, "examples", len(examples))

	if dataDryRun {
		printPreview(os.Stdout, examples)
		return nil
	}

	n, err := api.AddTrainingData(ctx, botID, trainingdata.ToItems(examples))
	if err != nil {
		return fmt.Errorf("add training data: %w", err)
	}
	fmt.Printf("Imported %d example(s) from %s\n", n, path)
	fmt.Printf("  Start training with 'botctl train %d'\n", botID)
	return nil
}

// printPreview lists parsed examples with per-intent counts.
func printPreview(w io.Writer, examples []trainingdata.Example) {
	counts := map[string]int{}
	var intents []string
	for _, ex := range examples {
		if counts[ex.Intent] == 0 {
			intents = append(intents, ex.Intent)
		}
		counts[ex.Intent]++
	}

	fmt.Fprintf(w, "Parsed %d example(s) in %d intent(s):\n", len(examples), len(intents))
	for _, intent := range intents {
		fmt.Fprintf(w, "  %-20s %d\n", intent, counts[intent])
	}
	fmt.Fprintln(w)

	for i, ex := range examples {
		if i == previewLimit {
			fmt.Fprintf(w, "... and %d more\n", len(examples)-previewLimit)
			break
		}
		fmt.Fprintf(w, "[%s] %s\n  -> %s\n", ex.Intent, ex.User, ex.Bot)
	}
}

func runDataExport(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}
	format, err := trainingdata.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	data, err := api.ListTrainingData(ctx, botID)
	if err != nil {
		return fmt.Errorf("list training data: %w", err)
	}
	return writeExamples(trainingdata.FromTrainingData(data), format, dataOutput)
}

func runDataTemplate(cmd *cobra.Command, args []string) error {
	format, err := trainingdata.ParseFormat(tmplFormat)
	if err != nil {
		return err
	}
	return writeExamples(trainingdata.Template(), format, "")
}

func writeExamples(examples []trainingdata.Example, format trainingdata.Format, path string) error {
	if path == "" {
		return trainingdata.Export(os.Stdout, examples, format)
	}

	var buf bytes.Buffer
	if err := trainingdata.Export(&buf, examples, format); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d example(s) to %s\n", len(examples), path)
	return nil
}
