package git

import "strings"

const remoteBranchPrefix = "remotes/"

// ParseBranches parses "git branch -a --no-color". Names keep their first
// position; the line marked with '*' becomes Current.
func ParseBranches(out string) Branches {
	var res Branches
	seen := make(map[string]struct{})
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		current := strings.HasPrefix(line, "*")
		name := strings.TrimSpace(strings.TrimLeft(line, "*"))
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			if strings.HasPrefix(name, remoteBranchPrefix) {
				res.Remote = append(res.Remote, name)
			} else {
				res.Local = append(res.Local, name)
			}
		}
		if current {
			res.Current = name
		}
	}
	return res
}
