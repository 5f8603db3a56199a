// Package itemfile reads batch requests from YAML or JSON files and writes
// results in either format.
package itemfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Load reads a batch file. The format follows the extension: .json is JSON,
// anything else YAML. The document is either a batch request object or a
// bare list of items, which gets the wire defaults (full, strict).
func Load(path string) (*domain.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return Parse(data, FormatJSON)
	}
	return Parse(data, FormatYAML)
}

// Parse decodes a batch document in the given format.
func Parse(data []byte, format string) (*domain.BatchRequest, error) {
	var body []byte
	switch format {
	case FormatJSON:
		body = bytes.TrimSpace(data)
	case FormatYAML:
		var err error
		if body, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown batch file format %q", format)
	}

	if len(body) > 0 && body[0] == '[' {
		body = append(append([]byte(`{"items":`), body...), '}')
	}
	var req domain.BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	return &req, nil
}

// yamlToJSON converts a single YAML document to JSON so items go through
// the same decoder as HTTP requests.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse yaml: empty document")
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("parse yaml: multiple documents are not supported")
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return body, nil
}

// Write encodes v in the given format. YAML output uses the JSON field
// names.
func Write(w io.Writer, v any, format string) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(body, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
