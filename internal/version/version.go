package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// set via -ldflags "-X ocm.software/open-component-model/server/internal/version.gitVersion=..."
var (
	gitVersion = "0.0.0-dev"
	gitCommit  string
	buildDate  = "1970-01-01T00:00:00Z"
)

type Info struct {
	Major      string `json:"major"`
	Minor      string `json:"minor"`
	Patch      string `json:"patch"`
	PreRelease string `json:"prerelease"`
	Meta       string `json:"meta"`
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
	Compiler   string `json:"compiler"`
	Platform   string `json:"platform"`
}

// Semver returns the server version plugins are checked against. The module
// version from the build info wins over the linker provided one; development
// builds fall back to the latter.
func Semver() *semver.Version {
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v, err := semver.NewVersion(bi.Main.Version); err == nil {
			return v
		}
	}
	if v, err := semver.NewVersion(gitVersion); err == nil {
		return v
	}
	return semver.New(0, 0, 0, "dev", "")
}

// Get returns the overall codebase version.
func Get() Info {
	v := Semver()
	commit, date := gitCommit, buildDate
	goVersion := runtime.Version()
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				date = s.Value
			}
		}
	}

	return Info{
		Major:      strconv.FormatUint(v.Major(), 10),
		Minor:      strconv.FormatUint(v.Minor(), 10),
		Patch:      strconv.FormatUint(v.Patch(), 10),
		PreRelease: v.Prerelease(),
		Meta:       strings.TrimPrefix(v.Metadata(), "+"),
		GitVersion: v.String(),
		GitCommit:  commit,
		BuildDate:  date,
		GoVersion:  goVersion,
		Compiler:   runtime.Compiler,
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
