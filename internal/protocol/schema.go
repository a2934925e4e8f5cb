package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var ErrSchema = errors.New("protocol: message does not match schema")

var schemaFiles = map[string]string{
	TypeHello:         "hello.schema.json",
	TypeCommand:       "command.schema.json",
	TypeEventBatchReq: "event_batch_req.schema.json",
	TypeStatus:        "status.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for _, name := range schemaFiles {
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("add %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			s, err := c.Compile(name)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks a raw message of type msgType against its embedded schema.
func Validate(msgType string, raw []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	s, ok := all[msgType]
	if !ok {
		return fmt.Errorf("%w: no schema for %q", ErrSchema, msgType)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// HasSchema reports whether inbound messages of msgType are validated.
func HasSchema(msgType string) bool {
	_, ok := schemaFiles[msgType]
	return ok
}
