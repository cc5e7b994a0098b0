package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	// FormatText leaves rendering to the command, e.g. the raw token.
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts the names of the known formats; empty means text.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", name)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatText:
		return fmt.Errorf("text format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteKeyValues prints aligned "key: value" lines in the given order.
func WriteKeyValues(w io.Writer, keys []string, values map[string]string) error {
	width := 0
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%-*s  %s\n", width+1, k+":", values[k]); err != nil {
			return err
		}
	}
	return nil
}
