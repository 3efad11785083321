//go:build !windows

package backend

const askpassSuffix = ""

const askpassScript = `#!/bin/sh
case "$1" in
  *Username*|*username*) printf '%s\n' "$GITCORE_ASKPASS_USERNAME" ;;
  *) printf '%s\n' "$GITCORE_ASKPASS_PASSWORD" ;;
esac
`
