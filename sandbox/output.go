package sandbox

import (
	"strconv"
	"strings"
)

// Section markers emitted by the Lean image's entrypoint around the
// program's stdout and exit code.
const (
	outputStartMarker   = "---LEAN_OUTPUT_START---"
	outputEndMarker     = "---LEAN_OUTPUT_END---"
	exitCodeStartMarker = "---LEAN_EXIT_CODE_START---"
	exitCodeEndMarker   = "---LEAN_EXIT_CODE_END---"
)

// decodeSections strips the machine-readable section markers from raw
// container output. When markers are absent the raw text is returned
// unchanged and hasExit is false; when the exit-code section is present
// and parsable, its value takes precedence over the container's own exit
// code.
func decodeSections(raw string) (output string, exitCode int, hasExit bool) {
	output = raw
	if between, ok := cutSection(raw, outputStartMarker, outputEndMarker); ok {
		output = strings.Trim(between, "\n")
	}
	if between, ok := cutSection(raw, exitCodeStartMarker, exitCodeEndMarker); ok {
		if code, err := strconv.Atoi(strings.TrimSpace(between)); err == nil {
			return output, code, true
		}
	}
	return output, 0, false
}

func cutSection(s, start, end string) (string, bool) {
	_, after, ok := strings.Cut(s, start)
	if !ok {
		return "", false
	}
	between, _, ok := strings.Cut(after, end)
	if !ok {
		return "", false
	}
	return between, true
}
