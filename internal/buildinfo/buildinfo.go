// Package buildinfo reports the pagefix version for --version and startup logs.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Version metadata is injected at build time via ldflags. When absent, the
// module and VCS metadata recorded by the Go toolchain are used instead.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Info is the resolved version metadata.
type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

// Read resolves version metadata, preferring ldflags values.
func Read() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = shortCommit(s.Value)
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// Summary returns a human-readable version string such as
// "v1.2.0 (abc1234 2025-01-02T03:04:05Z)".
func Summary() string {
	return Read().String()
}

func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	var meta []string
	if i.Commit != "" {
		commit := i.Commit
		if i.Modified {
			commit += "-dirty"
		}
		meta = append(meta, commit)
	}
	if i.Date != "" {
		meta = append(meta, i.Date)
	}
	if len(meta) > 0 {
		b.WriteString(" (" + strings.Join(meta, " ") + ")")
	}
	return b.String()
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
