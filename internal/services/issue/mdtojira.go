package issue

import (
	"regexp"
	"strconv"
	"strings"
)

// mdToJiraWiki converts the lightly-marked-up text an LLM tends to produce
// into JIRA wiki markup before assembly (spec.md's distillation drops this;
// original_source/devify/threadline/utils/issues/md_to_jira.py supplements
// it — raw markdown renders poorly in a JIRA description field).
func mdToJiraWiki(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			lines[i] = "{code}"
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		lines[i] = convertHeading(line)
	}
	out := strings.Join(lines, "\n")
	out = boldRe.ReplaceAllString(out, "*$1*")
	out = inlineCodeRe.ReplaceAllString(out, "{{$1}}")
	out = linkRe.ReplaceAllString(out, "[$1|$2]")
	return out
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

func convertHeading(line string) string {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	level := len(m[1])
	return "h" + strconv.Itoa(level) + ". " + m[2]
}

var (
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)
