// Command ssaobf is the pipeline's CLI driver: it parses spec.md §6's
// flag surface, builds a representative demo program (IR textual
// parsing/emission is out of scope - a real caller builds its ir.Program
// directly through the ir package's construction API), runs the
// scheduler over it, and reports what each pass did.
//
// Grounded on kanso's cmd/kanso-cli/main.go: colored success/failure
// reporting via fatih/color, one clear exit path per outcome.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"ssaobf/internal/demo"
	"ssaobf/internal/errors"
	"ssaobf/internal/obfconfig"
	"ssaobf/internal/obflog"
	"ssaobf/internal/scheduler"
)

func main() {
	diag := errors.NewReporter()

	cfg := obfconfig.Default()
	cfg.Register(pflag.CommandLine)
	debug := pflag.Bool("debug", false, "log every pass's debug-level tracing")
	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprint(os.Stderr, diag.Format(errors.FromConfigError(err)))
		os.Exit(1)
	}

	threshold := obflog.LevelWarn
	if *debug {
		threshold = obflog.LevelDebug
	}
	log := obflog.New(threshold)

	prog := demo.Program()

	report, err := scheduler.Run(prog, cfg, log)
	if err != nil {
		fmt.Fprint(os.Stderr, diag.Format(errors.FromInvariantError(err)))
		os.Exit(1)
	}

	color.Green("✓ obfuscated %q (%d function(s)) — run %s", prog.Name, len(prog.Functions), report.ID)
	printReport(report)
}

func printReport(r scheduler.Report) {
	fmt.Printf("  steps:            %v\n", r.Steps)
	fmt.Printf("  copy:             %+v\n", r.CopyStats)
	fmt.Printf("  bogus cf:         %+v\n", r.BogusCFStats)
	fmt.Printf("  opaque predicate: %+v\n", r.OpaqueStats)
	fmt.Printf("  replace inst:     %+v\n", r.ReplaceStats)
	fmt.Printf("  flatten:          %+v\n", r.FlattenStats)
	fmt.Printf("  inline:           %+v\n", r.InlineStats)
	fmt.Printf("  cleanup modified: %v\n", r.CleanupModified)
	fmt.Printf("  rename:           %+v\n", r.RenameStats)
	fmt.Printf("  cfg simplify:     %+v\n", r.CFGSimplifyStats)
}
