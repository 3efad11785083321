package git

import "strings"

// graphFormat is the --pretty format ParseGraph expects.
const graphFormat = "%H|%P|%an|%ad|%s"

// ParseGraph parses one commit per line in graphFormat. The subject keeps any
// '|' it contains; missing trailing fields are left empty.
func ParseGraph(out string) []GraphEntry {
	var entries []GraphEntry
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "|", 5)
		for len(fields) < 5 {
			fields = append(fields, "")
		}
		entry := GraphEntry{
			Commit:  fields[0],
			Author:  fields[2],
			Date:    fields[3],
			Subject: fields[4],
		}
		if parents := strings.Fields(fields[1]); len(parents) > 0 {
			entry.Parents = parents
		}
		entries = append(entries, entry)
	}
	return entries
}
