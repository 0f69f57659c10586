// Command pdlc reads a PDL IR JSON document, normalizes it, and emits test
// vectors for its top-level packets: vectors for the requested (or all)
// packets go out as one JSON array, and per-packet generation failures
// print to stderr as skips rather than aborting the run.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	json "github.com/go-json-experiment/json"
	osfs "github.com/gopherfs/fs/io/os"

	"github.com/bearlytools/pdlc/desugar"
	"github.com/bearlytools/pdlc/ir"
	"github.com/bearlytools/pdlc/testvectors"
	"github.com/gostdlib/base/context"
)

func main() {
	var (
		out     = flag.String("out", "", "file to write test vectors to (default stdout)")
		packets = flag.String("packet", "", "comma-separated list of top-level packets to generate (default: all)")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		exitf("usage: pdlc [-packet=a,b,c] [-out=file] <ir.json>")
	}

	ctx := context.Background()

	fs, err := osfs.New()
	if err != nil {
		exitf("mounting filesystem: %s", err)
	}

	data, err := fs.ReadFile(args[0])
	if err != nil {
		exitf("reading %s: %s", args[0], err)
	}

	f, err := ir.Decode(ctx, data)
	if err != nil {
		exitf("decoding IR: %s", err)
	}
	if err := ir.BuildScopes(ctx, f); err != nil {
		exitf("building scopes: %s", err)
	}
	if err := desugar.Normalize(ctx, f); err != nil {
		exitf("normalizing: %s", err)
	}

	var filter []string
	if *packets != "" {
		filter = strings.Split(*packets, ",")
	}

	vectors, warnings, err := testvectors.GenerateAll(ctx, f, filter)
	if err != nil {
		exitf("generating test vectors: %s", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "pdlc: skipping %s\n", w)
	}

	rendered, err := json.Marshal(vectors)
	if err != nil {
		exitf("encoding test vectors: %s", err)
	}

	if *out == "" {
		os.Stdout.Write(rendered)
		fmt.Println()
		return
	}
	if err := fs.WriteFile(*out, rendered, 0o644); err != nil {
		exitf("writing %s: %s", *out, err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
