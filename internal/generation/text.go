package generation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// extractRefined returns the text after the last refined-version marker, or
// the draft when the critique has no marker or nothing after it.
func extractRefined(critique, draft string) string {
	idx := strings.LastIndex(strings.ToUpper(critique), refinedMarker)
	if idx < 0 {
		return draft
	}
	refined := strings.TrimSpace(critique[idx+len(refinedMarker):])
	if refined == "" {
		return draft
	}
	return refined
}

// EnsureSignature appends a closing when the letter does not already end with
// the candidate's name. An empty name leaves the letter untouched.
func EnsureSignature(letter, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasSuffix(strings.TrimSpace(letter), name) {
		return letter
	}
	return strings.TrimRight(letter, " \t\r\n") + "\n\nSincerely,\n" + name
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

const maxFolderName = 120

func cleanName(s string) string {
	return strings.TrimSpace(unsafeNameChars.ReplaceAllString(s, ""))
}

// FolderName names an application's output directory:
// "Company - Title - YYYY-MM-DD", "Company - YYYY-MM-DD" or
// "Application_YYYYMMDD_HHMMSS".
func FolderName(company, title string, now time.Time) string {
	company, title = cleanName(company), cleanName(title)
	date := now.Format("2006-01-02")

	var base string
	switch {
	case company != "" && title != "":
		base = company + " - " + title
	case company != "":
		base = company
	default:
		return "Application_" + now.Format("20060102_150405")
	}

	suffix := " - " + date
	if limit := maxFolderName - len(suffix); len(base) > limit {
		base = strings.TrimSpace(truncateBytes(base, limit))
	}
	return fmt.Sprintf("%s%s", base, suffix)
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
