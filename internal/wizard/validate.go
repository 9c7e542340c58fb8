package wizard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/storedesk/ticketbot/internal/domain"
)

const (
	descriptionMin = 20
	descriptionMax = 4096
)

// ValidationError carries a user-facing validation message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// ValidateDescription checks the free-text problem description.
func ValidateDescription(text string) error {
	n := utf8.RuneCountInString(text)
	if n < descriptionMin {
		return invalid("Описание слишком короткое. Минимум 20 символов.")
	}
	if n > descriptionMax {
		return invalid("Описание слишком длинное. Максимум 4096 символов.")
	}
	if isRepeatedRune(text) {
		return invalid("Описание выглядит как спам. Напишите осмысленный текст.")
	}
	if containsControl(text) {
		return invalid("Описание содержит недопустимые символы.")
	}
	return nil
}

// isRepeatedRune reports whether the whole text is one rune repeated.
// Length is already known to be at least descriptionMin.
func isRepeatedRune(text string) bool {
	var first rune
	for i, r := range text {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}

// containsControl reports control characters that break Telegram messages.
// Tab, LF and CR are legitimate in multi-line descriptions.
func containsControl(text string) bool {
	for _, r := range text {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7F {
			return true
		}
	}
	return false
}

// ValidateAttachments checks the collected attachment list before submission.
func ValidateAttachments(attachments []domain.Attachment, maxCount int) error {
	if len(attachments) > maxCount {
		return invalid(fmt.Sprintf("Максимум %d файлов. У вас: %d", maxCount, len(attachments)))
	}
	for i, att := range attachments {
		if att.FileID == "" {
			return invalid(fmt.Sprintf("Некорректная структура файла #%d", i))
		}
		switch att.Kind {
		case domain.AttachmentPhoto, domain.AttachmentVideo, domain.AttachmentDocument:
		default:
			return invalid(fmt.Sprintf("Неподдерживаемый тип файла: %s", att.Kind))
		}
	}
	return nil
}

// allowedTags are the HTML tags Telegram renders; everything else is
// stripped by SanitizeHTML.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"code": true, "pre": true,
	"a": true,
}

// SanitizeHTML keeps the Telegram-supported tags, drops every other tag,
// and escapes remaining raw markup. Existing character entities are left
// untouched.
func SanitizeHTML(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		switch text[i] {
		case '<':
			if name, end, ok := parseTag(text, i); ok {
				if allowedTags[name] {
					b.WriteString(text[i:end])
				}
				i = end
				continue
			}
			b.WriteString("&lt;")
			i++
		case '>':
			b.WriteString("&gt;")
			i++
		case '&':
			if end, ok := parseEntity(text, i); ok {
				b.WriteString(text[i:end])
				i = end
				continue
			}
			b.WriteString("&amp;")
			i++
		case '"':
			b.WriteString("&quot;")
			i++
		case '\'':
			b.WriteString("&#039;")
			i++
		default:
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String()
}

// parseTag parses an HTML tag starting at text[i] == '<' and returns the
// lowercase tag name and the index just past the closing '>'.
func parseTag(text string, i int) (string, int, bool) {
	j := i + 1
	if j < len(text) && text[j] == '/' {
		j++
	}
	start := j
	for j < len(text) && isTagNameByte(text[j]) {
		j++
	}
	if j == start {
		return "", 0, false
	}
	name := strings.ToLower(text[start:j])
	for j < len(text) {
		switch text[j] {
		case '>':
			return name, j + 1, true
		case '<':
			return "", 0, false
		}
		j++
	}
	return "", 0, false
}

func isTagNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// parseEntity recognizes an existing character entity at text[i] == '&'.
func parseEntity(text string, i int) (int, bool) {
	j := i + 1
	if j < len(text) && text[j] == '#' {
		j++
	}
	start := j
	for j < len(text) && j-i <= 10 && isEntityByte(text[j]) {
		j++
	}
	if j == start || j >= len(text) || text[j] != ';' {
		return 0, false
	}
	return j + 1, true
}

func isEntityByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
