package obfconfig

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecTable(t *testing.T) {
	c := Default()
	assert.Equal(t, 0.2, c.BcfProbability)
	assert.Equal(t, 4, c.BcfGlobal)
	assert.Equal(t, 0.5, c.CopyProbability)
	assert.Equal(t, 0.5, c.CopyReplaceProbability)
	assert.True(t, c.CopyEnsureEligibility)
	assert.True(t, c.CopyEnsureReplacement)
	assert.Equal(t, 4, c.OpaqueGlobal)
	assert.False(t, c.NoObfSchedule)
	assert.False(t, c.TrivialObfuscation)
	assert.NoError(t, c.Validate())
}

func TestRegisterAndParseOverridesDefaults(t *testing.T) {
	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Register(fs)

	err := fs.Parse([]string{
		"--bcfProbability=0.75",
		"--bcfFunc=foo,bar",
		"--bcfSeed=determinism-seed",
		"--trivialObfuscation=true",
	})
	require.NoError(t, err)

	assert.Equal(t, 0.75, c.BcfProbability)
	assert.Equal(t, []string{"foo", "bar"}, c.BcfFunc)
	assert.Equal(t, "determinism-seed", c.BcfSeed)
	assert.True(t, c.TrivialObfuscation)
}

func TestValidateRejectsOutOfRangeProbability(t *testing.T) {
	c := Default()
	c.BcfProbability = 1.5
	assert.Error(t, c.Validate())
}

func TestValidateRejectsTooFewGuards(t *testing.T) {
	c := Default()
	c.OpaqueGlobal = 1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsConflictingScheduleModes(t *testing.T) {
	c := Default()
	c.NoObfSchedule = true
	c.TrivialObfuscation = true
	assert.Error(t, c.Validate())
}
