// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/gorelay/pkg/version.tag=v0.1.0
//	  -X github.com/NicolasHaas/gorelay/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gorelay/pkg/version.date=2026-10-01"
package version

// Populated by -ldflags "-X ...".
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// Info is a snapshot of the build metadata, convenient for structured logs.
type Info struct {
	Tag    string
	Commit string
	Date   string
}

// Get returns the build metadata.
func Get() Info {
	return Info{Tag: tag, Commit: commit, Date: date}
}

// String returns the tag, the short commit, or "dev" for local builds.
func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "unknown" && i.Commit != "":
		return i.Commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func (i Info) Full() string {
	s := i.String()
	if s == "dev" {
		return s
	}
	if i.Tag != "" {
		return s + " (" + i.Commit + ") built " + i.Date
	}
	return s + " built " + i.Date
}

// String is shorthand for Get().String().
func String() string { return Get().String() }
