package loader

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/goccy/go-json"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/meigma/loader/transport"
)

var charsetPattern = regexp.MustCompile(`(?i)charset="?([^;"\s]*)"?`)

// decode converts a response body into the representation selected by rt.
// mimeType is the configured mime type; contentType is the one reported by
// the transport.
func decode(data []byte, rt ResponseType, mimeType, contentType string) (any, error) {
	switch rt {
	case ResponseArrayBuffer:
		return data, nil
	case ResponseBlob:
		return &Blob{Data: data, Type: strings.ToLower(contentType)}, nil
	case ResponseDocument:
		return decodeDocument(data, mimeType)
	case ResponseJSON:
		text, err := utf8Text(data)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(text, &v); err != nil {
			return nil, fmt.Errorf("loader: decode json: %w", err)
		}
		return v, nil
	default:
		return decodeText(data, mimeType)
	}
}

// decodeText decodes data using the charset parameter of mimeType. Without a
// mime type, or without a charset, data is decoded as UTF-8.
func decodeText(data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		text, err := utf8Text(data)
		return string(text), err
	}
	label := "utf-8"
	if m := charsetPattern.FindStringSubmatch(mimeType); m != nil && m[1] != "" {
		label = strings.ToLower(m[1])
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, label)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		text, err := utf8Text(data)
		return string(text), err
	}
	text, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("loader: decode %s text: %w", label, err)
	}
	return string(text), nil
}

// utf8Text strips a leading byte order mark and replaces invalid sequences
// with U+FFFD.
func utf8Text(data []byte) ([]byte, error) {
	text, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("loader: decode utf-8 text: %w", err)
	}
	return text, nil
}

func decodeDocument(data []byte, mimeType string) (*Document, error) {
	mt, _, _ := strings.Cut(mimeType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))

	text, err := utf8Text(data)
	if err != nil {
		return nil, err
	}

	switch mt {
	case "text/html":
		root, err := html.Parse(bytes.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("loader: parse html document: %w", err)
		}
		return &Document{MimeType: mt, HTML: root}, nil
	case "text/xml", "application/xml", "application/xhtml+xml", "image/svg+xml":
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(text); err != nil {
			return nil, fmt.Errorf("loader: parse %s document: %w", mt, err)
		}
		return &Document{MimeType: mt, XML: doc}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMimeType, mimeType)
	}
}

// sliceFallback cuts the requested range out of a full-content payload.
// Only byte and blob payloads can be sliced.
func sliceFallback(payload any, rng *transport.Range, url string) (any, error) {
	switch v := payload.(type) {
	case []byte:
		start, end := rng.Bounds(int64(len(v)))
		return bytes.Clone(v[start:end]), nil
	case *Blob:
		return v.Slice(rng.Bounds(v.Size())), nil
	default:
		return nil, &RangeFallbackError{URL: url}
	}
}
