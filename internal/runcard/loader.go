package runcard

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Load error codes, distinct from the E1xx semantic validation codes.
const (
	ErrCodeGeneric    = "E001" // unknown error
	ErrCodeReadFailed = "E002" // file not readable
	ErrCodeBadYAML    = "E003" // document is not valid YAML
	ErrCodeSchema     = "E004" // document violates the runcard schema
)

// LoadError is a document-level loading failure with an optional source
// position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads, schema-checks and decodes one runcard file. Schema
// violations are collected rather than reported one at a time; a nil
// error slice means the document is structurally sound (semantic rules
// are Validate's job).
func Load(path string) (*Runcard, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("reading runcard: %v", err)}}
	}
	return Parse(path, data)
}

// Parse schema-checks and decodes runcard bytes. The path is used only
// for error positions.
func Parse(path string, data []byte) (*Runcard, []error) {
	if errs := checkSchema(path, data); len(errs) > 0 {
		return nil, errs
	}

	var rc Runcard
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBadYAML, Message: fmt.Sprintf("decoding runcard: %v", err)}}
	}
	rc.Path = path
	return &rc, nil
}

// checkSchema unifies the YAML document with the embedded schema and
// collects every violation with its source position.
func checkSchema(path string, data []byte) []error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("compiling runcard schema: %v", err)}}
	}
	def := schema.LookupPath(cue.ParsePath("#Runcard"))
	if err := def.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("runcard schema missing #Runcard: %v", err)}}
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return []error{&LoadError{Code: ErrCodeBadYAML, Message: fmt.Sprintf("parsing YAML: %v", err)}}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return cueErrorList(ErrCodeBadYAML, err)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(); err != nil {
		return cueErrorList(ErrCodeSchema, err)
	}
	return nil
}

// cueErrorList unpacks a CUE error into one LoadError per violation,
// preserving positions.
func cueErrorList(code string, err error) []error {
	var out []error
	for _, e := range cueerrors.Errors(err) {
		out = append(out, &LoadError{
			Code:    code,
			Message: e.Error(),
			Pos:     e.Position(),
		})
	}
	if len(out) == 0 {
		out = append(out, &LoadError{Code: code, Message: err.Error()})
	}
	return out
}
