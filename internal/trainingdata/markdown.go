package trainingdata

import (
	"bufio"
	"regexp"
	"strings"
)

// Section represents a heading and its content.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s*(.+)$`)
	intentRegex  = regexp.MustCompile(`^intent:(\w+)`)
)

// ParseMarkdown reads Rasa 2.x style Markdown:
//
//	## intent:greeting
//	- hi
//	- hello
//
// Sections whose heading is not an intent are ignored.
func ParseMarkdown(content string) []Example {
	var examples []Example
	for _, section := range parseSections(content) {
		if section.Level < 2 {
			continue
		}
		match := intentRegex.FindStringSubmatch(section.Heading)
		if match == nil {
			continue
		}
		intent := match[1]
		for _, line := range strings.Split(section.Content, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "-") {
				continue
			}
			examples = append(examples, Example{
				User:   stripEntities(strings.TrimSpace(line[1:])),
				Bot:    placeholderResponse(intent),
				Intent: intent,
			})
		}
	}
	return examples
}

// parseSections splits Markdown content at headings.
func parseSections(content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0

	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			currentSection.End = endLine
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			flushSection(lineNum - 1)
			currentSection = &Section{
				Level:   len(match[1]),
				Heading: strings.TrimSpace(match[2]),
				Start:   lineNum,
			}
		} else if currentSection != nil {
			contentBuilder.WriteString(line)
			contentBuilder.WriteString("\n")
		}
	}

	flushSection(lineNum)
	return sections
}
