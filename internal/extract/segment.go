package extract

import (
	"regexp"
	"strings"
)

// Chapter is a contiguous slice of the manuscript with its heading.
type Chapter struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Text  string `json:"-"`
	Words int    `json:"words"`
}

var chapterHeading = regexp.MustCompile(
	`(?mi)^\s*(chapter|part|book)\s+([0-9]+|[ivxlcdm]+|[a-z]+)\b[^\n]*$`,
)

// SplitChapters segments manuscript text on chapter headings. Text before
// the first heading becomes a front-matter chapter; a manuscript with no
// headings yields a single chapter spanning the whole text.
func SplitChapters(text string) []Chapter {
	locs := chapterHeading.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []Chapter{buildChapter(0, "Full Text", text)}
	}

	chapters := make([]Chapter, 0, len(locs)+1)
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		chapters = append(chapters, buildChapter(0, "Front Matter", head))
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title := strings.TrimSpace(text[loc[0]:loc[1]])
		body := text[loc[1]:end]
		chapters = append(chapters, buildChapter(len(chapters), title, body))
	}
	return chapters
}

func buildChapter(index int, title, text string) Chapter {
	return Chapter{
		Index: index,
		Title: title,
		Text:  text,
		Words: len(strings.Fields(text)),
	}
}
