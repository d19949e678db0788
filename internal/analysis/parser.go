package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	levelRe        = regexp.MustCompile(`(?i)LEVEL:\s*(\w+)`)
	typeRe         = regexp.MustCompile(`(?i)\bTYPE:\s*(\w+)`)
	requirementsRe = regexp.MustCompile(`(?is)REQUIREMENTS:\s*\n(.*?)(?:TECHNOLOGIES:|$)`)
	requirementRe  = regexp.MustCompile(`(?i)\d+\.\s*(\w+):\s*(.+?)\s*\(priority:\s*(\d+)\)`)
	technologiesRe = regexp.MustCompile(`(?i)TECHNOLOGIES:\s*(.+?)(?:\n|$)`)
	teamSizeRe     = regexp.MustCompile(`(?i)TEAM_SIZE_MENTIONED:\s*(\w+)`)
)

// Parse reads the line-oriented analysis format. It never fails: every field
// missing or unrecognised keeps its neutral value.
func Parse(text string) JobAnalysis {
	a := Neutral()

	if m := levelRe.FindStringSubmatch(text); m != nil {
		if l, ok := parseLevel(m[1]); ok {
			a.Level = l
		}
	}
	if m := typeRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseJobType(m[1]); ok {
			a.JobType = t
		}
	}

	if m := requirementsRe.FindStringSubmatch(text); m != nil {
		for _, r := range requirementRe.FindAllStringSubmatch(m[1], -1) {
			desc := strings.TrimSpace(r[2])
			if desc == "" {
				continue
			}
			a.Requirements = append(a.Requirements, Requirement{
				Category: strings.ToLower(r[1]),
				Text:     desc,
				Priority: clampPriority(r[3]),
			})
		}
	}

	if m := technologiesRe.FindStringSubmatch(text); m != nil {
		list := strings.TrimSpace(m[1])
		if !strings.EqualFold(list, "none") {
			seen := make(map[string]bool)
			for _, tech := range strings.Split(list, ",") {
				tech = strings.Trim(strings.TrimSpace(tech), `"'.`)
				key := strings.ToLower(tech)
				if tech == "" || seen[key] {
					continue
				}
				seen[key] = true
				a.KeyTechnologies = append(a.KeyTechnologies, tech)
			}
		}
	}

	if m := teamSizeRe.FindStringSubmatch(text); m != nil {
		a.TeamSizeMentioned = strings.EqualFold(m[1], "yes")
	}

	return a
}

func clampPriority(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 {
		return 1
	}
	if p > 3 {
		return 3
	}
	return p
}
