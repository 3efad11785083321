// Package buildinfo reports how the binary was built.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var readBuildInfo = debug.ReadBuildInfo

// Version returns the module version. Development builds fall back to the
// VCS revision, or "dev" when none was stamped.
func Version() string {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	rev, dirty := "", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return "dev-" + rev
}

// String is the line printed by -version.
func String() string {
	return fmt.Sprintf("gitcore %s (%s %s/%s)", Version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
