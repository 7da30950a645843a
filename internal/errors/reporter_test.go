package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatIncludesCodeAndMessage(t *testing.T) {
	r := NewReporter()
	out := r.Format(Diagnostic{Level: Error, Code: "E-CONFIG", Message: "bcfProbability out of range"})

	assert.Contains(t, out, "E-CONFIG")
	assert.Contains(t, out, "bcfProbability out of range")
}

func TestFormatIncludesSuggestionsAndNotes(t *testing.T) {
	r := NewReporter()
	out := r.Format(Diagnostic{
		Level:       Warning,
		Message:     "no eligible mutation found",
		Suggestions: []string{"lower replaceSeed determinism to widen the candidate set"},
		Notes:       []string{"this is cosmetic; the pipeline continues"},
	})

	assert.Contains(t, out, "try")
	assert.Contains(t, out, "lower replaceSeed determinism to widen the candidate set")
	assert.Contains(t, out, "this is cosmetic; the pipeline continues")
}

func TestFromConfigError(t *testing.T) {
	d := FromConfigError(fmt.Errorf("obfconfig: bcfGlobal 1 below minimum 2"))
	assert.Equal(t, "E-CONFIG", d.Code)
	assert.Contains(t, d.Message, "bcfGlobal")
}

func TestFromInvariantError(t *testing.T) {
	d := FromInvariantError(fmt.Errorf("obfmeta: invariant violated in predicate: unknown formula 7"))
	assert.Equal(t, "E-INVARIANT", d.Code)
	assert.Contains(t, d.Message, "unknown formula")
}
