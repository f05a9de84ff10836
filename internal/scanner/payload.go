package scanner

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

const (
	SourceQR  = "qr"
	SourceNFC = "nfc"
)

// ErrEmptyPayload is returned for blank QR payloads.
var ErrEmptyPayload = errors.New("scanner: empty payload")

var (
	cardIDKeys = []string{"cardid", "card_id", "card", "id"}
	holderKeys = []string{"holdername", "holder_name", "holder", "name"}
)

// ParseQR decodes a QR payload. Accepted forms are a JSON object, "key=value" pairs
// separated by ';' or '&', or a bare card id.
func ParseQR(payload string) (models.TagRead, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return models.TagRead{}, ErrEmptyPayload
	}

	var fields map[string]string
	switch {
	case strings.HasPrefix(payload, "{"):
		if !gjson.Valid(payload) {
			return models.TagRead{}, errors.New("scanner: malformed JSON payload")
		}
		fields = make(map[string]string)
		gjson.Parse(payload).ForEach(func(key, value gjson.Result) bool {
			fields[key.String()] = value.String()
			return true
		})
	case strings.Contains(payload, "="):
		fields = parsePairs(payload)
	default:
		return models.TagRead{CardID: payload, Source: SourceQR}, nil
	}

	return models.TagRead{
		CardID:     pick(fields, cardIDKeys),
		HolderName: pick(fields, holderKeys),
		RawFields:  fields,
		Source:     SourceQR,
	}, nil
}

func parsePairs(payload string) map[string]string {
	fields := make(map[string]string)
	parts := strings.FieldsFunc(payload, func(r rune) bool { return r == ';' || r == '&' })
	for _, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

func pick(fields map[string]string, keys []string) string {
	for _, want := range keys {
		for key, value := range fields {
			if strings.EqualFold(key, want) && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// StaticReader returns a read that is already available, such as a decoded QR payload.
type StaticReader struct {
	Tag models.TagRead
}

// Read implements Reader.
func (r StaticReader) Read(ctx context.Context) (models.TagRead, error) {
	if err := ctx.Err(); err != nil {
		return models.TagRead{}, err
	}
	return r.Tag, nil
}
