// Package version описывает сборку сервиса.
package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/sales/internal/version.version=...".
var (
	version = "dev"
	commit  = ""
	date    = ""
)

const unknown = "unknown"

// Build метаданные текущего бинарника.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current собирает метаданные из ldflags; недостающие поля берутся из debug.BuildInfo.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: unknown}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withBuildInfo(info)
	}
	if b.Commit == "" {
		b.Commit = unknown
	}
	if b.Date == "" {
		b.Date = unknown
	}
	return b
}

func (b Build) withBuildInfo(info *debug.BuildInfo) Build {
	b.GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && b.Commit == "":
			b.Commit = setting.Value
		case setting.Key == "vcs.time" && b.Date == "":
			b.Date = setting.Value
		}
	}
	return b
}

func (b Build) String() string {
	return fmt.Sprintf("sales-service version=%s commit=%s date=%s go=%s", b.Version, b.Commit, b.Date, b.GoVersion)
}
