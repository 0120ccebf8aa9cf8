// Package codec encodes article records for durable storage.
//
// A stored value is one tag byte followed by the payload:
//
//	0x00  CBOR record
//	0x01  zstd-compressed CBOR record
//
// Decoding accepts both tags whatever the codec's own setting, so
// compression can be toggled without rewriting existing data.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/feedfs/pkg/feed"
)

const (
	tagPlain byte = 0x00
	tagZstd  byte = 0x01

	recordVersion = 1
)

// ErrCorrupt is returned for values that cannot be decoded.
var ErrCorrupt = errors.New("corrupt article record")

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core deterministic encoding: the same article always yields the
	// same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// record is the persisted form of feed.Article. Short keys keep records
// small; times are Unix nanoseconds (0 when unknown).
type record struct {
	Version     int      `cbor:"v"`
	ID          string   `cbor:"id"`
	FeedID      string   `cbor:"f"`
	GUID        string   `cbor:"g,omitempty"`
	Title       string   `cbor:"t"`
	Link        string   `cbor:"l,omitempty"`
	Author      string   `cbor:"a,omitempty"`
	Description string   `cbor:"d,omitempty"`
	Body        string   `cbor:"b"`
	Tags        []string `cbor:"tg,omitempty"`
	Published   int64    `cbor:"p,omitempty"`
	Fetched     int64    `cbor:"fe,omitempty"`
}

// Codec converts articles to and from stored bytes.
type Codec struct {
	compress bool
}

// New returns a codec; compress selects zstd for newly encoded records.
func New(compress bool) *Codec {
	return &Codec{compress: compress}
}

// Compressed reports whether Encode compresses.
func (c *Codec) Compressed() bool {
	return c.compress
}

// Encode serialises a.
func (c *Codec) Encode(a *feed.Article) ([]byte, error) {
	rec := record{
		Version:     recordVersion,
		ID:          a.ID,
		FeedID:      a.FeedID,
		GUID:        a.GUID,
		Title:       a.Title,
		Link:        a.Link,
		Author:      a.Author,
		Description: a.Description,
		Body:        a.Body,
		Tags:        a.Tags,
		Published:   unixNano(a.Published),
		Fetched:     unixNano(a.Fetched),
	}

	payload, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode article %s: %w", a.ID, err)
	}

	if !c.compress {
		return append([]byte{tagPlain}, payload...), nil
	}
	return zstdEncoder.EncodeAll(payload, []byte{tagZstd}), nil
}

// Decode parses a value produced by Encode.
func (c *Codec) Decode(data []byte) (*feed.Article, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty value: %w", ErrCorrupt)
	}

	payload := data[1:]
	switch data[0] {
	case tagPlain:
	case tagZstd:
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %v: %w", err, ErrCorrupt)
		}
	default:
		return nil, fmt.Errorf("unknown tag 0x%02x: %w", data[0], ErrCorrupt)
	}

	var rec record
	if err := decMode.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, ErrCorrupt)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d: %w", rec.Version, ErrCorrupt)
	}

	return &feed.Article{
		ID:          rec.ID,
		FeedID:      rec.FeedID,
		GUID:        rec.GUID,
		Title:       rec.Title,
		Link:        rec.Link,
		Author:      rec.Author,
		Description: rec.Description,
		Body:        rec.Body,
		Tags:        rec.Tags,
		Published:   fromUnixNano(rec.Published),
		Fetched:     fromUnixNano(rec.Fetched),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
