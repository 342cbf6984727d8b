// Package textutil holds the pure text transforms used when porting wall
// content to Telegram: length-bounded splitting, VK link-notation to HTML
// translation, and plain-mode escaping.
package textutil

import (
	"fmt"
	"iter"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the sink's hard per-message length limit.
const MaxMessageLen = 4096

// breakThreshold rejects soft break points that land before this share of
// the limit; earlier breaks would waste too much of the message.
const breakThreshold = 0.8

// Split cuts text into chunks of at most maxLength characters; the sink
// counts characters, not bytes. Break points are chosen in order of
// preference: paragraph break, single newline, sentence end, hard cut.
// Soft breaks are only taken at or after 80% of the limit. The sequence is
// restartable; empty input yields a single empty chunk.
func Split(text string, maxLength int) iter.Seq[string] {
	if maxLength <= 0 {
		maxLength = MaxMessageLen
	}
	return func(yield func(string) bool) {
		rest := text
		for utf8.RuneCountInString(rest) > maxLength {
			cut := splitPoint(rest, maxLength)
			if !yield(strings.TrimSpace(rest[:cut])) {
				return
			}
			rest = strings.TrimSpace(rest[cut:])
		}
		yield(rest)
	}
}

// SplitAll is Split collected into a slice.
func SplitAll(text string, maxLength int) []string {
	var parts []string
	for part := range Split(text, maxLength) {
		parts = append(parts, part)
	}
	return parts
}

// splitPoint returns a byte offset cutting s to at most max characters.
func splitPoint(s string, max int) int {
	window := runeOffset(s, max)
	// Rounded up so a break at character max*0.8 exactly is still the
	// earliest one accepted.
	threshold := runeOffset(s, int(math.Ceil(float64(max)*breakThreshold)))
	for _, sep := range []string{"\n\n", "\n", ". "} {
		if i := strings.LastIndex(s[:window], sep); i >= threshold {
			return i
		}
	}
	return window
}

// runeOffset is the byte offset of the n-th character of s, or len(s) when
// s is shorter than that.
func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

var (
	// [target|label] notation.
	linkRe = regexp.MustCompile(`\[([^\[|]+)\|([^\]]+)\]`)
	// [#alias|target1|target2] notation.
	hashtagLinkRe = regexp.MustCompile(`\[#([^\[|]+)\|([^|]+)\|([^\]]+)\]`)
	// Internal short ids like id123 or club45.
	internalIDRe = regexp.MustCompile(`^(id|club)\d+$`)
	// Domain allow-list: only vk.com targets may become hyperlinks.
	allowedTargetRe = regexp.MustCompile(`^(https?://)?(m\.)?vk\.com(/[\w\-.~:/?#\[\]@&()*+,;%="ёЁа-яА-Я]*)?$`)
)

// Linkify HTML-escapes text and converts VK inline-link notation into <a>
// tags. Targets outside the vk.com allow-list stay literal bracket text, so
// untrusted domains never become hyperlinks.
func Linkify(text string) string {
	if text == "" {
		return ""
	}

	safe := escapeHTML(text)

	safe = hashtagLinkRe.ReplaceAllStringFunc(safe, func(match string) string {
		m := hashtagLinkRe.FindStringSubmatch(match)
		target := m[2]
		if allowedTargetRe.MatchString(target) {
			if !strings.HasPrefix(target, "http") {
				target = "https://" + target
			}
			return fmt.Sprintf(`<a href="%s">%s</a>`, target, target)
		}
		return m[2]
	})

	safe = linkRe.ReplaceAllStringFunc(safe, func(match string) string {
		m := linkRe.FindStringSubmatch(match)
		target, label := m[1], m[2]
		if internalIDRe.MatchString(target) {
			target = "https://vk.com/" + target
		}
		if allowedTargetRe.MatchString(target) {
			if !strings.HasPrefix(target, "http") {
				target = "https://" + target
			}
			return fmt.Sprintf(`<a href="%s">%s</a>`, target, label)
		}
		return "[" + m[1] + "|" + label + "]"
	})

	return safe
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

var plainEscapeRe = regexp.MustCompile("[_*\\[\\]()~`>#+\\-=|{}.!]")

// EscapePlain backslash-escapes markup-significant punctuation for sink
// surfaces that reject HTML parse mode.
func EscapePlain(text string) string {
	return plainEscapeRe.ReplaceAllString(text, `\$0`)
}

// Format renders text for the sink: HTML link translation when html is set,
// plain-mode escaping otherwise.
func Format(text string, html bool) string {
	if text == "" {
		return ""
	}
	if html {
		return Linkify(text)
	}
	return EscapePlain(text)
}

// HTMLLink renders one <a> tag, defaulting the scheme to https.
func HTMLLink(url, label string) string {
	if url != "" && !strings.HasPrefix(url, "http") && !strings.HasPrefix(url, "//") {
		url = "https://" + url
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, url, label)
}

// WallLink is the canonical URL of a wall post.
func WallLink(ownerID, postID int64) string {
	return fmt.Sprintf("https://vk.com/wall%d_%d", ownerID, postID)
}

// ProfileLink is the canonical URL of a user profile.
func ProfileLink(userID int64) string {
	return fmt.Sprintf("https://vk.com/id%d", userID)
}
