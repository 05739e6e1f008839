package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/schema"
)

// injectionPattern matches header names an attacker might smuggle into a
// field to add recipients or rewrite the message.
var injectionPattern = regexp.MustCompile(`(?i)(content-type|bcc:|cc:|to:)`)

var decoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// values holds one trimmed string per submitted field. Repeated fields and
// "name[]" arrays are joined with ", ".
type values map[string][]string

// readValues decodes a JSON object or a url-encoded body.
func readValues(c *fiber.Ctx) (values, error) {
	body := c.Body()

	raw := make(map[string][]string)
	if c.Is("json") {
		obj := make(map[string]any)
		if len(bytes.TrimSpace(body)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&obj); err != nil {
				return nil, err
			}
		}
		for k, v := range obj {
			raw[k] = jsonStrings(v)
		}
	} else {
		q, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		raw = q
	}

	out := make(values, len(raw))
	for k, vs := range raw {
		name := strings.TrimSuffix(k, "[]")
		out[name] = append(out[name], vs...)
	}
	for k, vs := range out {
		out[k] = []string{strings.TrimSpace(strings.Join(vs, ", "))}
	}
	return out, nil
}

func jsonStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{""}
	case string:
		return []string{t}
	case json.Number:
		return []string{t.String()}
	case bool:
		return []string{strconv.FormatBool(t)}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, jsonStrings(e)...)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// get returns the joined value of a field, or "".
func (v values) get(name string) string {
	if vs := v[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// injected reports whether any field carries a header-like token.
func (v values) injected() bool {
	for _, vs := range v {
		for _, s := range vs {
			if injectionPattern.MatchString(s) {
				return true
			}
		}
	}
	return false
}

// decode fills dst from the submitted fields using its schema tags.
func (v values) decode(dst any) error {
	return decoder.Decode(dst, v)
}
