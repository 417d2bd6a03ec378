package rewrite

import "strings"

// Style selects the instruction template used for a rewrite.
type Style int

const (
	StyleKeyPoints Style = iota // default
	StyleFillerRemoval
	StyleParagraphs
	StyleBusiness
	StyleClarity
	// StyleAuthorVoice is reserved for users holding the author-voice role.
	StyleAuthorVoice
)

const preserveLanguage = "Preserve the original language of the text; never translate it."

var templates = map[Style]string{
	StyleFillerRemoval: "Read the following text and remove all filler words such as 'well', 'like', 'kind of' to make the text more readable. Preserve the main message. " + preserveLanguage,
	StyleKeyPoints:     "Read the following text and highlight only the key points and important details, removing all unnecessary and repetitive phrases. Ensure that the final text retains the main message and is concise and clear. " + preserveLanguage,
	StyleParagraphs:    "Read the following text and structure it by adding logical pauses and paragraphs to improve readability. Remove all unnecessary words and phrases, preserving the main message. " + preserveLanguage,
	StyleBusiness:      "Read the following text and edit it for business correspondence. Remove filler words and unnecessary details, improving the wording to make the text look professional and neat. " + preserveLanguage,
	StyleClarity:       "Read the following text and rewrite it to be as clear and understandable as possible. Remove all filler words and unnecessary details, preserving the main message and key points. " + preserveLanguage,
	StyleAuthorVoice:   "Rewrite the following text as if the speaker wrote this message rather than voiced it. Keep their wording and tone. " + preserveLanguage,
}

var styleNames = map[Style]string{
	StyleKeyPoints:     "key_points",
	StyleFillerRemoval: "filler_removal",
	StyleParagraphs:    "paragraphs",
	StyleBusiness:      "business",
	StyleClarity:       "clarity",
	StyleAuthorVoice:   "author_voice",
}

func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return styleNames[StyleKeyPoints]
}

// ParseStyle maps a style name to a Style. ok is false for unknown names,
// in which case the default style is returned.
func ParseStyle(name string) (Style, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	for s, n := range styleNames {
		if n == name {
			return s, true
		}
	}
	return StyleKeyPoints, false
}

// Template returns the instruction text for s. Unknown styles get the
// key-points template.
func Template(s Style) string {
	if t, ok := templates[s]; ok {
		return t
	}
	return templates[StyleKeyPoints]
}
