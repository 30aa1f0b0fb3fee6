package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/loader"
)

// Record layout: kind byte, flags byte, body.
// Blob bodies are a uvarint content type length, the content type, then data.
const (
	kindBytes byte = iota + 1
	kindText
	kindBlob
)

const flagZstd byte = 1 << 0

var errCorruptRecord = errors.New("disk cache: corrupt record")

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func encodeRecord(payload any, compress bool) ([]byte, error) {
	var kind byte
	var body []byte
	switch v := payload.(type) {
	case []byte:
		kind, body = kindBytes, v
	case string:
		kind, body = kindText, []byte(v)
	case *loader.Blob:
		kind = kindBlob
		body = binary.AppendUvarint(nil, uint64(len(v.Type)))
		body = append(body, v.Type...)
		body = append(body, v.Data...)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}

	var flags byte
	if compress {
		enc, _, err := codecs()
		if err != nil {
			return nil, err
		}
		body = enc.EncodeAll(body, nil)
		flags |= flagZstd
	}

	record := make([]byte, 0, 2+len(body))
	record = append(record, kind, flags)
	return append(record, body...), nil
}

func decodeRecord(record []byte) (any, error) {
	if len(record) < 2 {
		return nil, errCorruptRecord
	}
	kind, flags, body := record[0], record[1], record[2:]
	if flags&flagZstd != 0 {
		_, dec, err := codecs()
		if err != nil {
			return nil, err
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errCorruptRecord, err)
		}
	}

	switch kind {
	case kindBytes:
		return body, nil
	case kindText:
		return string(body), nil
	case kindBlob:
		n, sz := binary.Uvarint(body)
		if sz <= 0 || uint64(len(body)-sz) < n {
			return nil, errCorruptRecord
		}
		typ := string(body[sz : sz+int(n)])
		return &loader.Blob{Data: body[sz+int(n):], Type: typ}, nil
	default:
		return nil, errCorruptRecord
	}
}
