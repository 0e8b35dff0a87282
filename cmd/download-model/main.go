// Standalone tool that exports an embedding model to ONNX format for the
// in-process hugot embedder.
//
// The Python conversion script is embedded in the binary so this command
// works when installed via `go install`.
//
// Requires uv (https://docs.astral.sh/uv/) and Python >=3.10.
//
// Usage: download-model <cache-dir> [model]
//
// The default model is BAAI/bge-m3. The exported files land under
// <cache-dir>/<model with slashes mapped to underscores>, which is where
// the local embedder looks for them.
package main

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

//go:embed convert-model.py
var script []byte

const defaultModel = "BAAI/bge-m3"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: download-model <cache-dir> [model]")
		os.Exit(1)
	}
	cacheDir := os.Args[1]
	model := defaultModel
	if len(os.Args) > 2 {
		model = os.Args[2]
	}
	dest := filepath.Join(cacheDir, strings.ReplaceAll(model, "/", "_"))

	// Skip if already exported.
	if _, err := os.Stat(filepath.Join(dest, "tokenizer.json")); err == nil {
		if _, err := os.Stat(filepath.Join(dest, "onnx", "model.onnx")); err == nil {
			fmt.Printf("Model already present at %s\n", dest)
			return
		}
	}

	// Write embedded script to a temp file.
	tmp, err := os.CreateTemp("", "convert-model-*.py")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create temp file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(script); err != nil {
		fmt.Fprintf(os.Stderr, "write temp file: %v\n", err)
		os.Exit(1)
	}
	if err := tmp.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close temp file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Exporting %s to %s...\n", model, dest)

	delay := 2 * time.Second
	for i := range 4 {
		if i > 0 {
			fmt.Fprintf(os.Stderr, "retry in %s: %v\n", delay, err)
			time.Sleep(delay)
			delay *= 2
		}

		cmd := exec.Command("uv", "run", tmp.Name(), dest, model)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err = cmd.Run(); err == nil {
			break
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "export model: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Model ready at %s\n", dest)
}
