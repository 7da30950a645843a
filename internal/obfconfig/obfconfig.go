// Package obfconfig is the pipeline's configuration surface: one flag per
// pass, bit-exact in name and default to spec.md §6's table (normative for
// test reproducibility), registered on a pflag.FlagSet the way the
// retrieval pack's Kubernetes tree registers its own component flags.
package obfconfig

import (
	"fmt"

	"github.com/spf13/pflag"
)

// ValidationError reports a single rejected flag value; the pipeline
// aborts before any pass runs rather than guessing a fallback (spec §7's
// Configuration-error class).
type ValidationError struct {
	Flag   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("obfconfig: %s: %s", e.Flag, e.Reason)
}

// Config is every flag the pipeline reads, already parsed and validated.
type Config struct {
	BcfFunc        []string
	BcfProbability float64
	BcfSeed        string
	BcfGlobal      int

	FlattenFunc []string
	FlattenSeed string

	CopyFunc               []string
	CopyProbability        float64
	CopyReplaceProbability float64
	CopySeed               string
	CopyEnsureEligibility  bool
	CopyEnsureReplacement  bool

	OpaqueSeed   string
	OpaqueGlobal int

	ReplaceSeed string

	NoObfSchedule      bool
	TrivialObfuscation bool
}

// Default returns a Config holding spec.md §6's literal defaults, useful
// for tests and for callers that never touch a flag set at all.
func Default() *Config {
	return &Config{
		BcfProbability:         0.2,
		BcfGlobal:              4,
		CopyProbability:        0.5,
		CopyReplaceProbability: 0.5,
		CopyEnsureEligibility:  true,
		CopyEnsureReplacement:  true,
		OpaqueGlobal:           4,
	}
}

// Register binds every spec.md §6 flag onto fs, pre-populated with cfg's
// current values as defaults. Call Parse on fs, then Validate on cfg.
func (c *Config) Register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&c.BcfFunc, "bcfFunc", c.BcfFunc, "restrict BogusCF to these functions")
	fs.Float64Var(&c.BcfProbability, "bcfProbability", c.BcfProbability, "per-block BogusCF transform probability")
	fs.StringVar(&c.BcfSeed, "bcfSeed", c.BcfSeed, "BogusCF RNG seed; empty means system time")
	fs.IntVar(&c.BcfGlobal, "bcfGlobal", c.BcfGlobal, "guard global count of the library prepared for BogusCF (its stubs are materialised by OpaquePredicate's library)")

	fs.StringSliceVar(&c.FlattenFunc, "flattenFunc", c.FlattenFunc, "restrict Flatten to these functions")
	fs.StringVar(&c.FlattenSeed, "flattenSeed", c.FlattenSeed, "Flatten RNG seed")

	fs.StringSliceVar(&c.CopyFunc, "copyFunc", c.CopyFunc, "restrict Copy to these functions")
	fs.Float64Var(&c.CopyProbability, "copyProbability", c.CopyProbability, "per-function Copy clone probability")
	fs.Float64Var(&c.CopyReplaceProbability, "copyReplaceProbability", c.CopyReplaceProbability, "per-callsite callee-rewiring probability")
	fs.StringVar(&c.CopySeed, "copySeed", c.CopySeed, "Copy RNG seed")
	fs.BoolVar(&c.CopyEnsureEligibility, "copyEnsureEligibility", c.CopyEnsureEligibility, "require a function be eligible before cloning it")
	fs.BoolVar(&c.CopyEnsureReplacement, "copyEnsureReplacement", c.CopyEnsureReplacement, "require at least one callsite rewire per clone")

	fs.StringVar(&c.OpaqueSeed, "opaque-seed", c.OpaqueSeed, "OpaquePredicateLib RNG seed")
	fs.IntVar(&c.OpaqueGlobal, "opaque-global", c.OpaqueGlobal, "OpaquePredicateLib guard global count")

	fs.StringVar(&c.ReplaceSeed, "replaceSeed", c.ReplaceSeed, "ReplaceInstruction RNG seed")

	fs.BoolVar(&c.NoObfSchedule, "noObfSchedule", c.NoObfSchedule, "run the scheduler with every pass disabled")
	fs.BoolVar(&c.TrivialObfuscation, "trivialObfuscation", c.TrivialObfuscation, "run only the trivial preset: Copy, Inline, Cleanup, Rename")
}

// Validate reports the first configuration error found: these are fatal
// per spec §7 and must abort the pipeline before any pass runs.
func (c *Config) Validate() error {
	if c.BcfProbability < 0 || c.BcfProbability > 1 {
		return &ValidationError{Flag: "bcfProbability", Reason: fmt.Sprintf("%v out of range [0,1]", c.BcfProbability)}
	}
	if c.CopyProbability < 0 || c.CopyProbability > 1 {
		return &ValidationError{Flag: "copyProbability", Reason: fmt.Sprintf("%v out of range [0,1]", c.CopyProbability)}
	}
	if c.CopyReplaceProbability < 0 || c.CopyReplaceProbability > 1 {
		return &ValidationError{Flag: "copyReplaceProbability", Reason: fmt.Sprintf("%v out of range [0,1]", c.CopyReplaceProbability)}
	}
	if c.CopyEnsureReplacement && c.CopyReplaceProbability == 0 {
		return &ValidationError{Flag: "copyReplaceProbability", Reason: "must be above 0 when copyEnsureReplacement is set"}
	}
	if c.BcfGlobal < 2 {
		return &ValidationError{Flag: "bcfGlobal", Reason: fmt.Sprintf("%d below minimum 2", c.BcfGlobal)}
	}
	if c.OpaqueGlobal < 2 {
		return &ValidationError{Flag: "opaque-global", Reason: fmt.Sprintf("%d below minimum 2", c.OpaqueGlobal)}
	}
	if c.NoObfSchedule && c.TrivialObfuscation {
		return &ValidationError{Flag: "noObfSchedule/trivialObfuscation", Reason: "mutually exclusive"}
	}
	return nil
}
