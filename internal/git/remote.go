package git

import "strings"

// ParseRemotes parses "git remote -v". Each remote usually appears twice,
// once per (fetch) and (push) kind.
func ParseRemotes(out string) []Remote {
	var remotes []Remote
	for line := range strings.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		remotes = append(remotes, Remote{
			Name: fields[0],
			URL:  fields[1],
			Kind: strings.Trim(fields[2], "()"),
		})
	}
	return remotes
}
