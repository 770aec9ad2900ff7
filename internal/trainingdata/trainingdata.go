// Package trainingdata parses training example files in the formats the
// platform accepts and renders stored examples back out for export.
package trainingdata

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/botctl/internal/client"
)

// UnknownIntent is assigned when a source carries no intent.
const UnknownIntent = "unknown"

// Format identifies an import/export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatCSV      Format = "csv"
	FormatTXT      Format = "txt"
	FormatMarkdown Format = "markdown"
)

// ErrUnsupportedFormat indicates a format name that has no parser or exporter.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Example is one user/bot pair as read from or written to a file.
type Example struct {
	User   string `json:"user" yaml:"user"`
	Bot    string `json:"bot" yaml:"bot"`
	Intent string `json:"intent" yaml:"intent"`
}

// ParseFormat maps a user-supplied name (including common aliases) onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	case "txt", "text":
		return FormatTXT, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DetectFormat picks a format from the file extension, falling back to
// sniffing the first 200 bytes of content.
func DetectFormat(filename, content string) Format {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if f, err := ParseFormat(ext); err == nil {
		return f
	}

	sample := content
	if len(sample) > 200 {
		sample = sample[:200]
	}
	sample = strings.TrimSpace(sample)

	switch {
	case strings.HasPrefix(sample, "[") || strings.HasPrefix(sample, "{"):
		return FormatJSON
	case strings.Contains(sample, "##") && strings.Contains(sample, "intent:"):
		return FormatMarkdown
	case strings.HasPrefix(sample, "nlu:") || strings.Contains(sample, "intent:"):
		return FormatYAML
	case strings.Contains(sample, ",") && strings.Contains(sample, "\n"):
		return FormatCSV
	}
	return FormatTXT
}

// Parse reads examples from content. An empty format is detected from the
// filename and content.
func Parse(filename, content string, format Format) ([]Example, error) {
	if format == "" {
		format = DetectFormat(filename, content)
	}
	switch format {
	case FormatJSON:
		return ParseJSON(content)
	case FormatYAML:
		return ParseYAML(content)
	case FormatCSV:
		return ParseCSV(content)
	case FormatTXT:
		return ParseTXT(content), nil
	case FormatMarkdown:
		return ParseMarkdown(content), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// ToItems converts parsed examples into the bulk-add payload.
func ToItems(examples []Example) []client.TrainingDataItem {
	items := make([]client.TrainingDataItem, 0, len(examples))
	for _, ex := range examples {
		item := client.TrainingDataItem{UserMessage: ex.User, BotResponse: ex.Bot}
		if ex.Intent != "" {
			intent := ex.Intent
			item.Intent = &intent
		}
		items = append(items, item)
	}
	return items
}

// FromTrainingData converts stored examples for export.
func FromTrainingData(data []client.TrainingData) []Example {
	examples := make([]Example, 0, len(data))
	for _, d := range data {
		intent := UnknownIntent
		if d.Intent != nil && *d.Intent != "" {
			intent = *d.Intent
		}
		examples = append(examples, Example{User: d.UserMessage, Bot: d.BotResponse, Intent: intent})
	}
	return examples
}

// Template is the sample file offered to users starting a new bot.
func Template() []Example {
	return []Example{
		{User: "Xin chào", Bot: "Xin chào! Tôi có thể giúp gì cho bạn?", Intent: "greeting"},
		{User: "Giá bao nhiêu?", Bot: "Sản phẩm này giá 299.000đ", Intent: "price_inquiry"},
	}
}

// placeholderResponse is used for formats that carry only user examples.
func placeholderResponse(intent string) string {
	return "Response for " + intent
}
