package textproc

import (
	"regexp"
	"strings"
)

// Cleansing strips the markup noise social platforms embed in text before it
// reaches inference: URLs, retweet prefixes, punctuation (colon excepted so
// timestamps survive), and line breaks. Mention and hashtag removal are kept
// separate because only the topic-modeling feed wants them gone.

var (
	urlPattern         = regexp.MustCompile(`(?:https?|ftp)://\S+`)
	punctuationPattern = regexp.MustCompile("[.,/#!$%^&*;{}=\\-_`~()?]")
	lineBreakPattern   = regexp.MustCompile(`(\r\n|\n|\r)`)
	rtTagPattern       = regexp.MustCompile(`RT\s`)
	mentionPattern     = regexp.MustCompile(`@\S*`)
	hashtagPattern     = regexp.MustCompile(`#\S*`)
)

// CleanText runs the full cleansing chain. Apart from the RT-prefix strip,
// which is a plain single-pass replace, the result is stable under
// re-application: CleanText(CleanText(s)) == CleanText(s).
func CleanText(text string) string {
	return RemoveLineBreaks(RemovePunctuation(RemoveURLs(RemoveRTTag(text))))
}

// TopicModelText further strips the first mention and hashtag for the
// topic-modeling document feed.
func TopicModelText(text string) string {
	return RemoveHashtags(RemoveMentions(text))
}

// RemoveLineBreaks collapses CR/LF sequences into single spaces.
func RemoveLineBreaks(text string) string {
	return lineBreakPattern.ReplaceAllString(text, " ")
}

// RemoveURLs strips http, https and ftp URLs.
func RemoveURLs(text string) string {
	return urlPattern.ReplaceAllString(text, "")
}

// RemovePunctuation strips punctuation except the colon, which is kept so
// embedded timestamps stay intact.
func RemovePunctuation(text string) string {
	return punctuationPattern.ReplaceAllString(text, "")
}

// RemoveRTTag strips retweet "RT " prefixes.
func RemoveRTTag(text string) string {
	return rtTagPattern.ReplaceAllString(text, "")
}

// RemoveMentions strips the first @user reference.
func RemoveMentions(text string) string {
	if loc := mentionPattern.FindStringIndex(text); loc != nil {
		return text[:loc[0]] + text[loc[1]:]
	}
	return text
}

// RemoveHashtags strips the first #tag reference.
func RemoveHashtags(text string) string {
	if loc := hashtagPattern.FindStringIndex(text); loc != nil {
		return text[:loc[0]] + text[loc[1]:]
	}
	return text
}

// Truncate caps text at max runes after trimming surrounding whitespace.
func Truncate(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
