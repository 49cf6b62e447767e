package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ImageKind tags the variant held by an ImageRef.
type ImageKind string

const (
	ImageEmbedded    ImageKind = "embedded"
	ImagePlaceholder ImageKind = "placeholder"
)

// PlaceholderPath is the pathless query endpoint placeholder references use.
const PlaceholderPath = "/placeholder.svg"

const defaultImageMIME = "image/png"

// ImageRef is either generated image content or a placeholder query. Only
// embedded references carry bytes a model can be conditioned on.
type ImageRef struct {
	Kind     ImageKind
	Data     []byte
	MIMEType string
	Query    string
}

// Embedded builds a reference holding generated image bytes.
func Embedded(data []byte, mimeType string) ImageRef {
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	return ImageRef{Kind: ImageEmbedded, Data: data, MIMEType: mimeType}
}

// Placeholder builds a reference to the placeholder service for query.
func Placeholder(query string) ImageRef {
	return ImageRef{Kind: ImagePlaceholder, Query: query}
}

// IsPlaceholder reports whether r stands in for a missing generation.
func (r ImageRef) IsPlaceholder() bool {
	return r.Kind == ImagePlaceholder
}

// String renders the reference in its wire form: a data URI or a
// placeholder URL.
func (r ImageRef) String() string {
	switch r.Kind {
	case ImageEmbedded:
		return "data:" + r.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
	case ImagePlaceholder:
		return PlaceholderPath + "?height=1080&width=1920&query=" + encodeURIComponent(r.Query)
	}
	return ""
}

// ParseImageRef parses a data URI or placeholder URL.
func ParseImageRef(s string) (ImageRef, error) {
	switch {
	case strings.HasPrefix(s, "data:"):
		header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
		if !ok {
			return ImageRef{}, errors.New("malformed data URI")
		}
		mimeType, isBase64 := strings.CutSuffix(header, ";base64")
		if !isBase64 {
			return ImageRef{}, errors.New("data URI is not base64 encoded")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return ImageRef{}, fmt.Errorf("invalid image payload: %w", err)
		}
		return Embedded(data, mimeType), nil

	case strings.HasPrefix(s, PlaceholderPath+"?"):
		u, err := url.Parse(s)
		if err != nil {
			return ImageRef{}, fmt.Errorf("invalid placeholder URL: %w", err)
		}
		return Placeholder(u.Query().Get("query")), nil
	}
	return ImageRef{}, fmt.Errorf("unrecognised image reference %q", truncate(s, 32))
}

type imageRefJSON struct {
	Kind     ImageKind `json:"kind"`
	URL      string    `json:"url"`
	MIMEType string    `json:"mimeType,omitempty"`
}

func (r ImageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(imageRefJSON{Kind: r.Kind, URL: r.String(), MIMEType: r.MIMEType})
}

func (r *ImageRef) UnmarshalJSON(b []byte) error {
	var raw imageRefJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseImageRef(raw.URL)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// encodeURIComponent escapes s the way browsers do for a query component:
// spaces become %20 rather than '+'.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
