package mailer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Template holds the subject and body patterns for outgoing email.
// Patterns may contain {placeholder} references resolved against the
// notification event payload, e.g. {title} or {metadata.plan}.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplate renders the notification title and body with an
// unsubscribe footer.
var DefaultTemplate = Template{
	Subject: "{title}",
	Body:    "{body}\n\n--\nTo stop receiving these emails, visit: {unsubscribe_url}",
}

// Render substitutes every {placeholder} in the pattern with the value at
// the matching path in the payload. Unresolvable placeholders render
// empty rather than failing the send.
func Render(pattern string, payload interface{}) string {
	// jsonpath operates on the generic JSON object model, so the payload
	// is round-tripped through encoding/json first.
	var doc interface{}
	if raw, err := json.Marshal(payload); err == nil {
		_ = json.Unmarshal(raw, &doc)
	}

	var out strings.Builder
	rest := pattern
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out.WriteString(rest)
			break
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			out.WriteString(rest)
			break
		}
		closing += open

		out.WriteString(rest[:open])
		path := strings.TrimSpace(rest[open+1 : closing])
		out.WriteString(resolve(path, doc))
		rest = rest[closing+1:]
	}
	return out.String()
}

func resolve(path string, doc interface{}) string {
	if path == "" || doc == nil {
		return ""
	}
	value, err := jsonpath.Get("$."+path, doc)
	if err != nil || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
