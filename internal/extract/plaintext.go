package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// PlainText splits UTF-8 text on blank lines.
type PlainText struct{}

func (PlainText) Format() domain.Format { return domain.FormatText }

func (PlainText) ExtractText(content []byte) ([]string, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("plain text is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return strings.Split(text, "\n\n"), nil
}
