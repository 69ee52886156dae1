package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Services returns the service names defined in a compose file. The
// container controller uses it to fail fast on a service name that the
// file does not define at all, before anything is started.
func Services(composeFile string) ([]string, error) {
	data, err := os.ReadFile(composeFile)
	if err != nil {
		return nil, fmt.Errorf("compose: read %s: %w", composeFile, err)
	}

	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("compose: parse %s: %w", composeFile, err)
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	return names, nil
}
