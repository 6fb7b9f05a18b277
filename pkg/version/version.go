// Package version reports the gpudbg release and how the binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/softgpu/gpudbg/pkg/wire"
)

// Version represents the current version of gpudbg.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	// Build is the vcs revision. Left empty it is filled from the build
	// information embedded by the go command.
	Build string
}

// GpudbgVersion is the current version of gpudbg.
var GpudbgVersion = Version{Major: "0", Minor: "3", Patch: "0"}

func (v Version) String() string {
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	build := v.Build
	if build == "" {
		build = "unknown"
		if info, ok := debug.ReadBuildInfo(); ok {
			if rev := revision(info); rev != "" {
				build = rev
			}
		}
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, build)
}

// revision returns the vcs revision recorded in info, marked dirty when the
// working tree had local modifications.
func revision(info *debug.BuildInfo) string {
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

// BuildInfo describes the toolchain, the protocol layout this binary
// speaks and the modules it was built from.
func BuildInfo() string {
	info, _ := debug.ReadBuildInfo()
	return formatBuildInfo(info)
}

func formatBuildInfo(info *debug.BuildInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, " protocol\t%d SMs, %d registers, %d dispatch units x %d slots\n",
		wire.NumSMs, wire.NumRegisters, wire.NumDispatchUnits, wire.NumReplicationSlots)
	if info == nil {
		b.WriteString(" not built in module mode\n")
		return b.String()
	}
	fmt.Fprintf(&b, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	if rev := revision(info); rev != "" {
		fmt.Fprintf(&b, " vcs\t%s\n", rev)
	}
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		fmt.Fprintf(&b, " dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	return b.String()
}
