package sysinfo

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/singleflight"
)

// NotInstalled is reported for tools whose version command fails.
const NotInstalled = "Not installed"

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.\-]+)?)`)

// Fact is one "key: value" line of the system report.
type Fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ToolVersion is the parsed output of "<tool> --version".
type ToolVersion struct {
	Raw     string
	Version *semver.Version
}

// String prefers the parsed semantic version over the raw output.
func (v ToolVersion) String() string {
	if v.Version != nil {
		return v.Version.String()
	}
	if v.Raw == "" {
		return NotInstalled
	}
	return v.Raw
}

// ParseToolVersion extracts the first semantic version in the output of a
// version command.
func ParseToolVersion(output string) ToolVersion {
	raw := strings.TrimSpace(output)
	tv := ToolVersion{Raw: raw}
	if m := versionPattern.FindStringSubmatch(raw); m != nil {
		if v, err := semver.NewVersion(m[1]); err == nil {
			tv.Version = v
		}
	}
	return tv
}

// Report is the collected environment description.
type Report struct {
	Facts []Fact `json:"facts"`
}

// Markdown renders the report as "* key: value" lines.
func (r Report) Markdown() string {
	lines := make([]string, 0, len(r.Facts))
	for _, f := range r.Facts {
		lines = append(lines, fmt.Sprintf("* %s: %s", f.Key, f.Value))
	}
	return strings.Join(lines, "\n")
}

// VersionFunc runs "<tool> --version" and returns its output.
type VersionFunc func(ctx context.Context, tool string) (string, error)

// Prober collects system facts once and caches them for the process lifetime.
type Prober struct {
	version VersionFunc
	timeout time.Duration

	group  singleflight.Group
	mu     sync.Mutex
	cached *Report
}

// NewProber creates a prober that shells out to the installed tools.
func NewProber() *Prober {
	return &Prober{version: commandVersion, timeout: 5 * time.Second}
}

// Tools are the toolchain commands whose versions are reported, in order.
var Tools = []struct {
	Key  string
	Tool string
}{
	{"Elan version", "elan"},
	{"Lean version", "lean"},
	{"Lake version", "lake"},
	{"VSCode version", "code"},
}

// Probe returns the cached report, collecting it on first use. Concurrent
// first callers share one collection.
func (p *Prober) Probe(ctx context.Context) (Report, error) {
	p.mu.Lock()
	if p.cached != nil {
		r := *p.cached
		p.mu.Unlock()
		return r, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("probe", func() (interface{}, error) {
		p.mu.Lock()
		if p.cached != nil {
			r := *p.cached
			p.mu.Unlock()
			return r, nil
		}
		p.mu.Unlock()

		r, err := p.collect(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cached = &r
		p.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (p *Prober) collect(ctx context.Context) (Report, error) {
	var facts []Fact

	osName := runtime.GOOS
	release := ""
	if info, err := host.InfoWithContext(ctx); err == nil {
		osName = info.OS
		release = info.KernelVersion
		if info.Platform != "" {
			release = strings.TrimSpace(info.Platform + " " + info.PlatformVersion + " " + info.KernelVersion)
		}
	} else {
		log.Warn().Err(err).Msg("Failed to read host info")
	}
	facts = append(facts, Fact{"Operating system", strings.TrimSpace(osName + " " + release)})
	facts = append(facts, Fact{"CPU architecture", runtime.GOARCH})

	cpuModel := ""
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		cpuModel = cpus[0].ModelName
	} else if err != nil {
		log.Warn().Err(err).Msg("Failed to read cpu info")
	}
	facts = append(facts, Fact{"CPU model", cpuModel})

	memory := ""
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memory = fmt.Sprintf("%.2f", float64(vm.Total)/1e9)
	} else {
		log.Warn().Err(err).Msg("Failed to read memory info")
	}
	facts = append(facts, Fact{"Total memory (GB)", memory})

	for _, t := range Tools {
		facts = append(facts, Fact{t.Key, p.toolVersion(ctx, t.Tool).String()})
	}
	return Report{Facts: facts}, nil
}

func (p *Prober) toolVersion(ctx context.Context, tool string) ToolVersion {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.version(ctx, tool)
	if err != nil {
		log.Debug().Err(err).Str("tool", tool).Msg("Version probe failed")
		return ToolVersion{}
	}
	return ParseToolVersion(out)
}

func commandVersion(ctx context.Context, tool string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, "--version").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
