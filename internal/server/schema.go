package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	//go:embed schemas/chat_request.json
	chatRequestSchemaJSON string
	//go:embed schemas/search_request.json
	searchRequestSchemaJSON string
)

var (
	compileOnce   sync.Once
	chatSchema    *jsonschema.Schema
	searchSchema  *jsonschema.Schema
	compileSchErr error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		for name, src := range map[string]string{
			"chat_request.json":   chatRequestSchemaJSON,
			"search_request.json": searchRequestSchemaJSON,
		} {
			if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
				compileSchErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}
		var err error
		if chatSchema, err = compiler.Compile("chat_request.json"); err != nil {
			compileSchErr = fmt.Errorf("compile chat request schema: %w", err)
			return
		}
		if searchSchema, err = compiler.Compile("search_request.json"); err != nil {
			compileSchErr = fmt.Errorf("compile search request schema: %w", err)
		}
	})
	return compileSchErr
}

// ValidateChatBody checks a raw /api/chat body against the request schema.
func ValidateChatBody(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validate(chatSchema, data)
}

// ValidateSearchBody checks a raw /api/search body against the request schema.
func ValidateSearchBody(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validate(searchSchema, data)
}

func validate(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("request is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("request does not match schema: %w", err)
	}
	return nil
}
