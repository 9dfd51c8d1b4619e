package git

import (
	"strconv"
	"strings"
)

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Files     int
	Additions int
	Deletions int
}

// ParseDiffStats counts files and changed lines in a unified diff.
func ParseDiffStats(patch string) DiffStats {
	var s DiffStats
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			s.Files++
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			s.Additions++
		case strings.HasPrefix(line, "-"):
			s.Deletions++
		}
	}
	return s
}

func (s DiffStats) String() string {
	return strconv.Itoa(s.Files) + " files, +" + strconv.Itoa(s.Additions) + " -" + strconv.Itoa(s.Deletions)
}
