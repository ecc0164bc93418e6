package config

import (
	_ "embed"
	"errors"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// validateSchema unifies a JSON-encoded Config with #Config and requires
// the result to be concrete.
func validateSchema(encoded []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return configError("compile config schema", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return configError("compile config schema", errors.New("#Config not found"))
	}

	data := ctx.CompileBytes(encoded, cue.Filename("config.json"))
	if err := data.Err(); err != nil {
		return configError("load config for validation", err)
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return configError("invalid config", errors.New(strings.TrimSpace(cueerrors.Details(err, nil))))
	}
	return nil
}
