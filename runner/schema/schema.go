// Package schema validates rendered load-test reports against bundled JSON schemas.
package schema

import (
	"embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Names of the bundled schemas
const (
	JMeterStatistics = "jmeter_statistics"
	K6Summary        = "k6_summary"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	// Cache for compiled schemas
	schemaCache     = make(map[string]*gojsonschema.Schema)
	schemaCacheLock sync.RWMutex
)

// Load returns the compiled schema registered under name
func Load(name string) (*gojsonschema.Schema, error) {
	schemaCacheLock.RLock()
	s, ok := schemaCache[name]
	schemaCacheLock.RUnlock()
	if ok {
		return s, nil
	}

	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	schemaCacheLock.Lock()
	schemaCache[name] = compiled
	schemaCacheLock.Unlock()

	return compiled, nil
}

// Validate checks document against the named schema. It returns whether the
// document is valid and the validation messages when it is not; err is set
// only when the schema or the document cannot be processed at all.
func Validate(name string, document []byte) (bool, []string, error) {
	s, err := Load(name)
	if err != nil {
		return false, nil, err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return false, nil, fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errors := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errors[i] = e.String()
		}
		return false, errors, nil
	}

	return true, nil, nil
}
