// Package notice holds the Notice value and everything rendered from it:
// captions, file names and link-preview titles.
package notice

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid notice")

// Notice is the unit being broadcast. It is treated as immutable; per-part
// captions are derived, never written back.
type Notice struct {
	ID    int64  `json:"id" validate:"required,gt=0"`
	Title string `json:"title" validate:"required,max=1024"`
	Date  string `json:"date" validate:"required,max=64"`
	URL   string `json:"url" validate:"required,http_url"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate

	strict = bluemonday.StrictPolicy()
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the structural contract: positive id, non-empty text
// fields and an http(s) url.
func (n Notice) Validate() error {
	if err := validatorInstance().Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(Sanitize(n.Title)) == "" {
		return fmt.Errorf("%w: title(empty after sanitizing)", ErrInvalid)
	}
	return nil
}

// Sanitize strips markup from upstream text and collapses whitespace.
func Sanitize(s string) string {
	s = strict.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

const dateLayout = "2 January 2006"

var dateInputs = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// FormatDate renders an ISO-ish date as "2 January 2006". Unparseable input
// is returned trimmed but otherwise unchanged.
func FormatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateInputs {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(dateLayout)
		}
	}
	return raw
}

// Caption is the message body sent with the attachment.
func (n Notice) Caption() string {
	var b strings.Builder
	b.WriteString("*New Notice*\n\n")
	b.WriteString(Sanitize(n.Title))
	if d := FormatDate(n.Date); d != "" {
		b.WriteString("\nDate: ")
		b.WriteString(d)
	}
	return b.String()
}

// PartCaption annotates the caption for part n (1-based) of total.
func (n Notice) PartCaption(part, total int) string {
	return fmt.Sprintf("%s\n\n(Part %d of %d)", n.Caption(), part, total)
}

// LinkTitle is the caption used when falling back to a link preview.
func (n Notice) LinkTitle() string {
	return n.Caption() + "\n\nclick to view"
}

func (n Notice) Filename() string {
	return fmt.Sprintf("Notice_%d.pdf", n.ID)
}

func (n Notice) PartFilename(part, total int) string {
	return fmt.Sprintf("Notice_%d_Part_%d_of_%d.pdf", n.ID, part, total)
}
