package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isotope/internal/ops"
)

func TestStartProfilerDisabled(t *testing.T) {
	stop, err := startProfiler(ops.ProfilingConfig{AppName: "isotope"})
	require.NoError(t, err)
	require.NotNil(t, stop)
	assert.NotPanics(t, stop)
}
