// CUE schema validation code
package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

// SchemaDefinition is the CUE definition configs are checked against.
const SchemaDefinition = "#Config"

// ValidateWithCue validates YAML config bytes using a CUE schema file. The
// schema must declare SchemaDefinition.
func ValidateWithCue(configName string, yamlBytes []byte, cueFile string) error {
	ctx := cuecontext.New()

	f, err := yaml.Extract(configName, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(f)
	if configVal.Err() != nil {
		return fmt.Errorf("cannot build YAML config: %w", configVal.Err())
	}

	// Read CUE schema
	schemaBytes, err := os.ReadFile(cueFile)
	if err != nil {
		return fmt.Errorf("cannot read CUE schema: %w", err)
	}
	schemaVal := ctx.CompileBytes(schemaBytes, cue.Filename(cueFile))
	if schemaVal.Err() != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", schemaVal.Err())
	}
	def := schemaVal.LookupPath(cue.ParsePath(SchemaDefinition))
	if !def.Exists() {
		return fmt.Errorf("CUE schema %s does not define %s", cueFile, SchemaDefinition)
	}

	// Merge values with schema
	final := def.Unify(configVal)
	if final.Err() != nil {
		return fmt.Errorf("schema unify failed: %w", final.Err())
	}

	// Validate final structure
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
