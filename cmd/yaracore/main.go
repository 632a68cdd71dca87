// Command yaracore is a minimal illustrative CLI exercising the engine end
// to end: parse a rule file, compile it, and scan a path. It mirrors the
// teacher's cmd/yargo/main.go (usage shape, filepath.WalkDir scan loop,
// plain-fmt.Fprintf diagnostics) and is not part of the engine's public API.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/matcher"
	"github.com/corvid-labs/yaracore/modules"
	"github.com/corvid-labs/yaracore/parser"
	"github.com/corvid-labs/yaracore/scan"
	"github.com/corvid-labs/yaracore/vm"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: yaracore <rules.yar> <path>\n")
		os.Exit(1)
	}

	rulesFile := os.Args[1]
	scanPath := os.Args[2]

	src, err := os.ReadFile(rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading rules: %v\n", err)
		os.Exit(1)
	}

	sourceFile, err := parser.ParseBytes(rulesFile, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing rules: %v\n", err)
		os.Exit(1)
	}

	modReg := modules.NewRegistry(modules.PE())
	prog, err := compiler.Compile(sourceFile, compiler.Options{Modules: modReg.Declare()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error compiling rules: %v\n", err)
		os.Exit(1)
	}

	scanner, err := scan.New(prog, matcher.Options{SkipInvalidRegex: true}, modReg, vm.DefaultLimits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building matcher: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "compiled %d rules (%d patterns, %d regex literals)\n",
		len(prog.Rules), len(prog.Patterns), len(prog.Regexes))

	var scanned, matchedFiles int

	err = filepath.WalkDir(scanPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		scanned++

		var matches scan.Collector
		ctx, cancel := scan.WithTimeout(context.Background(), 30*time.Second)
		scanErr := scanner.ScanFile(ctx, path, nil, &matches)
		cancel()
		if scanErr != nil {
			fmt.Fprintf(os.Stderr, "error scanning %s: %v\n", path, scanErr)
			return nil
		}

		if len(matches) > 0 {
			matchedFiles++
			fmt.Println(path)
			for _, m := range matches {
				fmt.Printf("  %s\n", m.Rule)
			}
		}

		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error walking path: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "scanned %d files, %d matched\n", scanned, matchedFiles)
}
