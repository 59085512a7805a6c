// Command process runs the content processor pipeline (C4's Process step)
// against a single local file, without a broker or repository. Useful for
// checking chunking/metadata output for a given file outside the pipeline.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"

	"p8fs-storage/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: process <path>")
		return 1
	}
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		log.Printf("read %s: %v", path, err)
		return 1
	}

	ext := filepath.Ext(path)
	contentType := mime.TypeByExtension(ext)

	processors := []worker.ContentProcessor{worker.PlaintextProcessor{}, worker.MarkdownProcessor{}}
	var proc worker.ContentProcessor
	for _, p := range processors {
		if p.Accepts(ext, contentType) {
			proc = p
			break
		}
	}
	if proc == nil {
		log.Printf("no content processor accepts %s (content-type %q)", path, contentType)
		return 1
	}

	extractionMethod := fmt.Sprintf("%T", proc)
	chunks, meta, err := proc.Process(string(content), path, contentType, extractionMethod, nil)
	if err != nil {
		log.Printf("process %s: %v", path, err)
		return 1
	}

	out := struct {
		Metadata worker.FileMetadata `json:"metadata"`
		Chunks   []worker.Chunk      `json:"chunks"`
	}{Metadata: meta, Chunks: chunks}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Printf("encode output: %v", err)
		return 1
	}
	return 0
}
