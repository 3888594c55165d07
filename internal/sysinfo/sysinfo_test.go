package sysinfo

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/ir"
)

func TestCollect(t *testing.T) {
	h, err := Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runtime.GOOS, h.OS)
	assert.Equal(t, runtime.Version(), h.GoVersion)
	assert.Positive(t, h.LogicalCPUs)
	assert.NotEmpty(t, h.Arch)
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMap_IsCanonical(t *testing.T) {
	h := Host{OS: "linux", Arch: "amd64", LogicalCPUs: 8, GoVersion: "go1.25.0", MemoryBytes: 1 << 30}
	m := h.Map()

	assert.NotContains(t, m, "hostname", "empty fields are omitted")
	assert.Equal(t, int64(1<<30), m["memory_bytes"])

	data, err := ir.MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t, `{"arch":"amd64","go_version":"go1.25.0","logical_cpus":8,"memory_bytes":1073741824,"os":"linux"}`, string(data))
}
