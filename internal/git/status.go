package git

import (
	"strconv"
	"strings"
)

// ParseStatus parses NUL-separated "git status --branch --porcelain=v1 -z"
// output. Unrecognized records are skipped.
func ParseStatus(out string) Status {
	var st Status
	records := strings.Split(out, "\x00")
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if rec == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(rec, "## "); ok {
			parseBranchHeader(rest, &st)
			continue
		}
		if path, ok := strings.CutPrefix(rec, "?? "); ok {
			if path != "" {
				st.Untracked = append(st.Untracked, path)
			}
			continue
		}
		if len(rec) <= 3 {
			continue
		}

		code := rec[:2]
		change := FileChange{
			Path:           rec[3:],
			IndexStatus:    statusCode(code[0]),
			WorktreeStatus: statusCode(code[1]),
		}
		if (code[0] == 'R' || code[0] == 'C') && i+1 < len(records) {
			i++
			change.OriginalPath = change.Path
			change.Path = records[i]
		} else if from, to, ok := strings.Cut(change.Path, " -> "); ok {
			change.OriginalPath = from
			change.Path = to
		}

		switch {
		case strings.ContainsRune(code, 'U'):
			st.Conflicts = append(st.Conflicts, change)
		default:
			if change.IndexStatus != "" {
				st.Staged = append(st.Staged, change)
			}
			if change.WorktreeStatus != "" {
				st.Unstaged = append(st.Unstaged, change)
			}
		}
	}
	st.IsClean = len(st.Staged) == 0 && len(st.Unstaged) == 0 && len(st.Conflicts) == 0 && len(st.Untracked) == 0
	return st
}

func statusCode(c byte) string {
	if c == ' ' || c == '?' {
		return ""
	}
	return string(c)
}

// parseBranchHeader handles the text after "## ", e.g.
//
//	main...origin/main [ahead 2, behind 1]
//	HEAD (no branch)
//	No commits yet on main
func parseBranchHeader(line string, st *Status) {
	names, summary := line, ""
	if idx := strings.IndexByte(line, '['); idx >= 0 {
		names, summary = line[:idx], line[idx:]
	}

	if head, upstream, ok := strings.Cut(names, "..."); ok {
		if strings.Contains(head, "(no branch)") || strings.Contains(head, "HEAD") {
			st.Detached = true
		} else {
			st.Branch = strings.TrimSpace(head)
		}
		st.Upstream = strings.TrimSpace(upstream)
	} else {
		name := strings.TrimSpace(names)
		for _, prefix := range []string{"No commits yet on ", "Initial commit on "} {
			name = strings.TrimPrefix(name, prefix)
		}
		switch {
		case strings.HasPrefix(name, "HEAD"):
			st.Detached = true
		case name != "":
			st.Branch = name
		}
	}

	details := strings.Trim(summary, "[]")
	for part := range strings.SplitSeq(details, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "ahead "); ok {
			if n, err := strconv.Atoi(v); err == nil {
				st.Ahead = n
			}
		} else if v, ok := strings.CutPrefix(part, "behind "); ok {
			if n, err := strconv.Atoi(v); err == nil {
				st.Behind = n
			}
		}
	}
}
