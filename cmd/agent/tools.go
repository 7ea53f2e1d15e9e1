package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/tools"
)

// toolManifestEntry is one tool's declaration in TOOLS_FILE, grounded on
// the same YAML-declared-graph idiom workflow.ParseGraph uses for its own
// config surface.
type toolManifestEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
	Cacheable   bool           `yaml:"cacheable"`
}

// loadToolCatalog reads path (if non-empty) into the s2s tool catalog and
// the dispatcher's validation specs. A routing-only agent with no data/IDV
// tools of its own may leave TOOLS_FILE unset.
func loadToolCatalog(path string) (map[string]s2s.ToolSpec, []tools.Spec, error) {
	catalog := make(map[string]s2s.ToolSpec)
	if path == "" {
		return catalog, nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: read tools file: %w", err)
	}

	var entries []toolManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("agent: parse tools file: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	specs := make([]tools.Spec, 0, len(entries))
	for _, e := range entries {
		schemaJSON, err := json.Marshal(e.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("agent: encode schema for tool %q: %w", e.Name, err)
		}
		resourceName := e.Name + ".json"
		if err := compiler.AddResource(resourceName, e.Schema); err != nil {
			return nil, nil, fmt.Errorf("agent: register schema for tool %q: %w", e.Name, err)
		}
		compiled, err := compiler.Compile(resourceName)
		if err != nil {
			return nil, nil, fmt.Errorf("agent: compile schema for tool %q: %w", e.Name, err)
		}

		catalog[e.Name] = s2s.ToolSpec{Name: e.Name, Description: e.Description, Schema: schemaJSON}
		specs = append(specs, tools.Spec{Name: e.Name, Schema: compiled, Cacheable: e.Cacheable})
	}

	return catalog, specs, nil
}
