// Package classify decides how the bot treats an inbound mention: whether it
// deserves an answer, how urgently, and what question to forward to the
// answer service. Everything here is pure text processing so it can be
// exercised without any network dependency.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Kind tags the outcome of classifying a mention's text.
type Kind int

const (
	// Excluded mentions are never answered: retweets, spam, self-replies.
	Excluded Kind = iota
	// BareMention is a tag of the bot with no extractable question.
	BareMention
	// Question is a mention carrying a recognizable question.
	Question
)

// Priorities for the posting queue. Real questions drain before bare tags.
const (
	PriorityBareMention = 1
	PriorityQuestion    = 2
)

// Classification is the result of examining one mention.
type Classification struct {
	Kind     Kind
	Priority int
	// Question is the cleaned question text, empty for BareMention/Excluded.
	Question string
}

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern = regexp.MustCompile(`@\w+`)
	spacePattern   = regexp.MustCompile(`\s+`)

	// Promotional noise that wastes post quota. Matched case-insensitively
	// against the whole text.
	spamPatterns = []string{
		"airdrop",
		"giveaway",
		"free money",
		"claim your",
		"promo code",
		"follow back",
		"check my bio",
		"dm me",
	}

	interrogatives = []string{
		"what", "why", "how", "when", "where", "who", "which",
		"is", "are", "can", "could", "does", "do", "will", "would", "should",
	}

	// Conversational filler stripped from the front of a mention before the
	// remainder is treated as the question.
	leadingFiller = []string{
		"hey", "hi", "hello", "please", "can you", "could you",
		"thoughts on", "what do you think", "opinion on",
		"tell me about", "explain",
	}
)

// Classify examines mention text and decides how to handle it. botHandle is
// the bot's own @handle (with or without the leading @).
func Classify(text, botHandle string) Classification {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "RT @") {
		return Classification{Kind: Excluded}
	}

	lower := strings.ToLower(trimmed)
	for _, pattern := range spamPatterns {
		if strings.Contains(lower, pattern) {
			return Classification{Kind: Excluded}
		}
	}

	question := ExtractQuestion(trimmed, botHandle)
	if question == "" {
		return Classification{Kind: BareMention, Priority: PriorityBareMention}
	}

	if isQuestion(question) {
		return Classification{Kind: Question, Priority: PriorityQuestion, Question: question}
	}

	// Has content but no question shape. Treated like a bare tag for
	// prioritization, the content still travels to the answer service.
	return Classification{Kind: BareMention, Priority: PriorityBareMention, Question: question}
}

// ExtractQuestion strips the bot handle, other @mentions, URLs and leading
// filler from mention text. Returns "" when nothing meaningful remains.
func ExtractQuestion(text, botHandle string) string {
	handle := "@" + strings.TrimPrefix(botHandle, "@")

	cleaned := strings.ReplaceAll(text, handle, " ")
	cleaned = mentionPattern.ReplaceAllString(cleaned, " ")
	cleaned = urlPattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))

	words := strings.Fields(cleaned)
	for len(words) > 0 {
		stripped := false
		for _, filler := range leadingFiller {
			fillerWords := strings.Fields(filler)
			if matchesPrefix(words, fillerWords) {
				words = words[len(fillerWords):]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	question := strings.TrimSpace(strings.Join(words, " "))
	if len(question) < 3 {
		return ""
	}
	return question
}

func matchesPrefix(words, prefix []string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		w := strings.ToLower(strings.TrimRight(words[i], "?.,!"))
		if w != p {
			return false
		}
	}
	return true
}

func isQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	first := strings.ToLower(strings.Fields(text)[0])
	for _, kw := range interrogatives {
		if first == kw {
			return true
		}
	}
	return false
}

// TruncateReply elides text so it fits the platform's character limit. The
// limit counts runes, not bytes, and the cut lands on a word boundary when
// one exists, with "..." appended.
func TruncateReply(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit-3])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
