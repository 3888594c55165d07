// Package sysinfo describes the machine a run executed on, so stored
// results can be compared across hosts.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host is a snapshot of the execution environment.
type Host struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	CPUModel        string
	LogicalCPUs     int
	MemoryBytes     uint64
	GoVersion       string
}

// Collect gathers the host description. Probes that fail leave their
// fields empty; only a context error is returned.
func Collect(ctx context.Context) (Host, error) {
	h := Host{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		GoVersion:   runtime.Version(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			h.Arch = info.KernelArch
		}
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		h.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		h.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryBytes = vm.Total
	}

	if err := ctx.Err(); err != nil {
		return Host{}, fmt.Errorf("collect host info: %w", err)
	}
	return h, nil
}

// Map returns the host as a canonical-JSON-safe object (strings and int64
// only). Empty fields are omitted.
func (h Host) Map() map[string]any {
	m := map[string]any{
		"os":           h.OS,
		"arch":         h.Arch,
		"logical_cpus": int64(h.LogicalCPUs),
		"go_version":   h.GoVersion,
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("hostname", h.Hostname)
	put("platform", h.Platform)
	put("platform_version", h.PlatformVersion)
	put("kernel_version", h.KernelVersion)
	put("cpu_model", h.CPUModel)
	if h.MemoryBytes > 0 {
		m["memory_bytes"] = int64(h.MemoryBytes)
	}
	return m
}
