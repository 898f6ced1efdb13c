// Package hostinfo captures a snapshot of the analysis host, recorded with
// each run so results can be traced back to the machine that produced them.
package hostinfo

import (
	"context"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// Snapshot describes the host at the time of an analysis run.
type Snapshot struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	CPUModel      string `json:"cpu_model"`
	CPUCores      int    `json:"cpu_cores"`
	TotalMemory   string `json:"total_memory"`
}

// Collect gathers host details. Individual probe failures leave their
// fields empty rather than failing the snapshot.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = info.Platform
		snap.KernelVersion = info.KernelVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		snap.CPUModel = cpus[0].ModelName
	}

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = count
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.TotalMemory = units.HumanSize(float64(vm.Total))
	}

	return snap
}

// Fields returns the snapshot as structured log fields.
func (s *Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"hostname": s.Hostname,
		"os":       s.OS,
		"platform": s.Platform,
		"kernel":   s.KernelVersion,
		"cpu":      s.CPUModel,
		"cores":    s.CPUCores,
		"memory":   s.TotalMemory,
	}
}
