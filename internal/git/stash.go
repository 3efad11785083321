package git

import "strings"

const (
	stashSep    = "\x01"
	stashFormat = "%H%x01%gd%x01%cr%x01%s"
)

// ParseStashList parses "git stash list" in stashFormat. Lines with fewer
// than four fields are dropped.
func ParseStashList(out string) []StashEntry {
	var entries []StashEntry
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\r\n")
		fields := strings.SplitN(line, stashSep, 4)
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, StashEntry{
			Hash:         fields[0],
			Name:         fields[1],
			RelativeTime: fields[2],
			Message:      fields[3],
		})
	}
	return entries
}
