package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// capture routes output into buffers with colour disabled.
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	out, errOut = new(bytes.Buffer), new(bytes.Buffer)
	restore := SetOutput(out, errOut)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("no suggestions", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("task failed", "sampler diverged", nil)
		require.EqualError(t, err, "task failed")
		assert.Equal(t, "task failed\n\nsampler diverged\n", errOut.String())
	})

	t.Run("single suggestion", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("result not found", "no blob", []string{"Wait for COMPLETE"})
		require.EqualError(t, err, "result not found")
		assert.Contains(t, errOut.String(), "\nWait for COMPLETE\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("numbered suggestions", func(t *testing.T) {
		_, errOut := capture(t)
		_ = Error("invalid configuration", "bad yaml", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("cannot reach the job store", "", map[string]string{
		"Redis":    "redis://localhost:6379",
		"Instance": "test-instance",
	}, []string{"Start Redis"})

	require.EqualError(t, err, "cannot reach the job store")
	assert.Equal(t,
		"cannot reach the job store\n\n\n  Instance: test-instance\n  Redis: redis://localhost:6379\n\nStart Redis\n",
		errOut.String())
}

func TestSuccessAndWarning(t *testing.T) {
	out, _ := capture(t)
	Success("Submitted job %s\n", "j1")
	Success("✓ already marked\n")
	Warning("stalled\n")
	assert.Equal(t, "✓ Submitted job j1\n✓ already marked\n⚠️  stalled\n", out.String())
}

func TestPhase(t *testing.T) {
	prev := color.NoColor
	t.Cleanup(func() { color.NoColor = prev })

	color.NoColor = true
	assert.Equal(t, "COMPLETE", Phase(jobstore.PhaseComplete))
	assert.Equal(t, "PENDING", Phase(jobstore.PhasePending))

	color.NoColor = false
	assert.Contains(t, Phase(jobstore.PhaseFailed), "FAILED")
	assert.NotEqual(t, "FAILED", Phase(jobstore.PhaseFailed))
}
