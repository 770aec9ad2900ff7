package trainingdata

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Export writes examples in the given format. Markdown and TXT are import-only.
func Export(w io.Writer, examples []Example, format Format) error {
	if examples == nil {
		examples = []Example{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(examples); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(examples); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"user", "bot", "intent"}); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, ex := range examples {
			if err := cw.Write([]string{ex.User, ex.Bot, ex.Intent}); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w for export: %q", ErrUnsupportedFormat, format)
}
