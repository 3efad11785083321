package git

import "strings"

// ParseLog parses "git log --oneline --decorate" output.
func ParseLog(out string) []LogEntry {
	var entries []LogEntry
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		commit, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		entry := LogEntry{Commit: commit, Summary: rest}
		if strings.HasPrefix(rest, "(") {
			if end := strings.IndexByte(rest, ')'); end >= 0 {
				entry.Refs = splitRefs(rest[1:end])
				entry.Summary = strings.TrimSpace(rest[end+1:])
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func splitRefs(s string) []string {
	var refs []string
	for ref := range strings.SplitSeq(s, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
