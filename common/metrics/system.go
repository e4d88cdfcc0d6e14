// Package metrics captures facts about the runtime environment. They
// are logged once at startup so an incident report can tell which kind
// of machine the service was on.
package metrics

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// SystemInfo describes the host the service runs on
type SystemInfo struct {
	Hostname         string
	OS               string
	OSVersion        string
	Arch             string
	CPULogical       int
	TotalMemoryMB    uint64
	GoVersion        string
	InContainer      bool
	ContainerRuntime string
}

// CaptureSystemInfo gathers system information
func CaptureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		OSVersion:  getOSVersion(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()
	info.TotalMemoryMB = getTotalMemoryMB()

	return info
}

// detectContainer checks if running in a container
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") {
			return true, "docker"
		}
		if strings.Contains(content, "kubepods") {
			return true, "kubernetes"
		}
		if strings.Contains(content, "containerd") {
			return true, "containerd"
		}
	}

	return false, ""
}

// getOSVersion returns a human-readable OS version where one is cheap
// to read; other platforms fall back to the GOOS name.
func getOSVersion() string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
			}
		}
	}
	return "linux"
}

// getTotalMemoryMB reads total memory from /proc/meminfo (0 elsewhere)
func getTotalMemoryMB() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}
