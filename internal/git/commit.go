package git

import "strings"

const commitDetailsFormat = "%H%n%an%n%ad%n%B"

// ParseCommitDetails parses "git show --name-status" output produced with
// commitDetailsFormat: hash, author and date lines, the message up to the
// first blank line, then one "<status> <path>" line per file.
func ParseCommitDetails(out string) CommitDetails {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	next := func() string {
		if len(lines) == 0 {
			return ""
		}
		line := lines[0]
		lines = lines[1:]
		return line
	}

	var d CommitDetails
	d.Commit = next()
	d.Author = next()
	d.Date = next()

	var msg []string
	for len(lines) > 0 {
		line := next()
		if strings.TrimSpace(line) == "" {
			break
		}
		msg = append(msg, line)
	}
	d.Message = strings.TrimSpace(strings.Join(msg, "\n"))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if file, ok := parseNameStatus(line); ok {
			d.Files = append(d.Files, file)
		}
	}
	return d
}

// parseNameStatus reads "<status>\t<path>" or, for renames and copies,
// "<status>\t<from>\t<to>". Lines without tabs fall back to whitespace
// fields.
func parseNameStatus(line string) (CommitFile, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		fields = strings.Fields(line)
		if len(fields) < 2 {
			return CommitFile{}, false
		}
		fields = []string{fields[0], strings.Join(fields[1:], " ")}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	f := CommitFile{Status: fields[0], Path: fields[len(fields)-1]}
	if len(fields) == 3 {
		f.OriginalPath = fields[1]
	}
	if f.Status == "" || f.Path == "" {
		return CommitFile{}, false
	}
	return f, true
}
