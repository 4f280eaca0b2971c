package topics

import (
	"regexp"
	"strings"
)

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(.+)$`)
	markdownHeaderRe  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	tocKeywordRe      = regexp.MustCompile(`(?i)^\s*(table of contents|contents|toc|outline|agenda)\s*:?\s*$`)
	tocBulletRe       = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
	pageNumberRe      = regexp.MustCompile(`\s*\.{2,}\s*\d+\s*$`)
)

const maxHeadingLevel = 6

// ExtractPattern builds the topic hierarchy deterministically from heading
// patterns: numbered headings (1., 1.1), markdown headers and TOC keyword
// regions. Heading depth is the tree level; each heading's parent is the
// last topic seen at the nearest shallower level.
func ExtractPattern(text string, name string) Result {
	courseName := strings.TrimSpace(name)
	if courseName == "" {
		courseName = "Document"
	}

	result := Result{CourseName: courseName}

	lastAtLevel := make(map[int]string)
	seenTitles := make(map[string]struct{})
	inTOC := false

	add := func(title string, level int) {
		title = strings.TrimSpace(pageNumberRe.ReplaceAllString(title, ""))
		if title == "" {
			return
		}
		if _, ok := seenTitles[title]; ok {
			return
		}

		if level > maxHeadingLevel {
			level = maxHeadingLevel
		}
		parent := ""
		if level > 1 {
			for l := level - 1; l >= 1; l-- {
				if p, ok := lastAtLevel[l]; ok {
					parent = p
					break
				}
			}
			// A deep heading with no ancestor yet becomes a main topic.
			if parent == "" {
				level = 1
			}
		}

		seenTitles[title] = struct{}{}
		lastAtLevel[level] = title
		for l := level + 1; l <= maxHeadingLevel; l++ {
			delete(lastAtLevel, l)
		}

		if level == 1 {
			result.MainTopics = append(result.MainTopics, Topic{Title: title, Level: 1})
			return
		}
		result.Subtopics = append(result.Subtopics, Topic{Title: title, Level: level, Parent: parent})
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			inTOC = false
			continue
		}

		if tocKeywordRe.MatchString(line) {
			inTOC = true
			continue
		}

		if m := markdownHeaderRe.FindStringSubmatch(line); m != nil {
			inTOC = false
			add(m[2], len(m[1]))
			continue
		}

		if m := numberedHeadingRe.FindStringSubmatch(line); m != nil {
			inTOC = false
			add(m[2], strings.Count(m[1], ".")+1)
			continue
		}

		if inTOC {
			if m := tocBulletRe.FindStringSubmatch(line); m != nil {
				add(m[1], 1)
			}
		}
	}

	result.TotalTopics = len(result.MainTopics) + len(result.Subtopics)
	return result
}
