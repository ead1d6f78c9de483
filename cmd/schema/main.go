package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"crossfire/protocol"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "schema/protocol.schema.json", "output path for the generated schema")
	flag.Parse()

	if err := writeSchema(outPath, protocol.Schema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// writeSchema 先写同目录下的临时文件再改名，失败时不留下半成品
func writeSchema(outPath string, schema *jsonschema.Schema) (err error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp schema: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp schema: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod schema: %w", err)
	}
	if err = os.Rename(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("replace schema %s: %w", outPath, err)
	}
	return nil
}
