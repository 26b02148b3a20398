package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExtractor is the selector of the status page this bot was built for.
const DefaultExtractor = "html:.jumbotron table tr td h2"

// Extraction is what an Extractor pulls out of a response.
type Extraction struct {
	// Token is classified into a Code.
	Token string
	// Text is what gets posted into the room.
	Text string
}

// Extractor reads a status from a response body and HTTP status code.
type Extractor func(body []byte, statusCode int) (Extraction, error)

// ParseExtractor parses the shorthand syntax described in the package doc.
func ParseExtractor(spec string) (Extractor, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		s = DefaultExtractor
	}
	if s == "http" {
		return HTTPCodeExtractor, nil
	}
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q (expected 'http', 'html:<selector>', 'json:<path>' or 'regex:<pattern>')", spec)
	}
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, fmt.Errorf("extractor %q: missing argument", kind)
	}
	switch kind {
	case "html":
		return HTMLExtractor(arg), nil
	case "json":
		return JSONExtractor(arg), nil
	case "regex":
		return RegexExtractor(arg)
	default:
		return nil, fmt.Errorf("unknown extractor type %q", kind)
	}
}

// HTMLExtractor selects the first element matching selector. The token is
// the text of that element's first child and the text is the whole element.
func HTMLExtractor(selector string) Extractor {
	return func(body []byte, _ int) (Extraction, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: html: %v", ErrParse, err)
		}
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return Extraction{}, fmt.Errorf("%w: selector %q matched nothing", ErrParse, selector)
		}
		text := collapseSpace(sel.Text())
		token := collapseSpace(sel.Children().First().Text())
		if token == "" {
			token = text
		}
		if text == "" {
			return Extraction{}, fmt.Errorf("%w: selector %q matched an empty element", ErrParse, selector)
		}
		return Extraction{Token: token, Text: text}, nil
	}
}

// JSONExtractor walks a dot-separated path through a JSON object.
func JSONExtractor(path string) Extractor {
	parts := strings.Split(path, ".")
	return func(body []byte, _ int) (Extraction, error) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return Extraction{}, fmt.Errorf("%w: json: %v", ErrParse, err)
		}
		v, ok := jsonPath(data, parts)
		if !ok || v == "" {
			return Extraction{}, fmt.Errorf("%w: json path %q not found", ErrParse, path)
		}
		return Extraction{Token: v, Text: v}, nil
	}
}

func jsonPath(data any, parts []string) (string, bool) {
	cur := data
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = obj[p]; !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// RegexExtractor uses the first capture group as token and the whole match as text.
func RegexExtractor(pattern string) (Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regex extractor: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("regex extractor: pattern %q needs a capture group", pattern)
	}
	return func(body []byte, _ int) (Extraction, error) {
		m := re.FindSubmatch(body)
		if len(m) < 2 {
			return Extraction{}, fmt.Errorf("%w: pattern did not match", ErrParse)
		}
		return Extraction{Token: string(m[1]), Text: collapseSpace(string(m[0]))}, nil
	}, nil
}

// HTTPCodeExtractor ignores the body: 2xx is Online, 4xx Unstable, anything else Offline.
func HTTPCodeExtractor(_ []byte, statusCode int) (Extraction, error) {
	var c Code
	switch {
	case statusCode >= 200 && statusCode < 300:
		c = Online
	case statusCode >= 400 && statusCode < 500:
		c = Unstable
	default:
		c = Offline
	}
	return Extraction{Token: c.String(), Text: fmt.Sprintf("%s (HTTP %d)", c, statusCode)}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
