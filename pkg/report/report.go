// Package report renders scan reports into exchange formats and compares
// findings between scans.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Exporters lists the available formats by name.
var Exporters = map[string]core.Exporter{
	"json":      JSONExporter{},
	"yaml":      YAMLExporter{},
	"cyclonedx": CycloneDXExporter{},
}

func ExporterFor(format string) (core.Exporter, error) {
	e, ok := Exporters[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("unknown export format %q (expected %s)", format, strings.Join(Formats(), ", "))
	}
	return e, nil
}

func Formats() []string {
	names := make([]string, 0, len(Exporters))
	for name := range Exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type JSONExporter struct{}

func (JSONExporter) Name() string          { return "json" }
func (JSONExporter) FileExtension() string { return ".json" }

func (JSONExporter) Export(r *types.Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type YAMLExporter struct{}

func (YAMLExporter) Name() string          { return "yaml" }
func (YAMLExporter) FileExtension() string { return ".yaml" }

func (YAMLExporter) Export(r *types.Report, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
