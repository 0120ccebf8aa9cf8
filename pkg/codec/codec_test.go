package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArticle() *feed.Article {
	return &feed.Article{
		ID:        "0123456789abcdef0123456789abcdef",
		FeedID:    "demo",
		GUID:      "urn:demo:1",
		Title:     "Hello",
		Link:      "https://example.com/hello",
		Author:    "Ada",
		Body:      strings.Repeat("<p>Lorem ipsum dolor sit amet.</p>", 50),
		Tags:      []string{"go", "feeds"},
		Published: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Fetched:   time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			c := New(compress)
			a := sampleArticle()

			data, err := c.Encode(a)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, a, got)
			assert.Equal(t, a.Fingerprint(), got.Fingerprint())
		})
	}
}

func TestCompressionShrinksRepetitiveBodies(t *testing.T) {
	a := sampleArticle()

	plain, err := New(false).Encode(a)
	require.NoError(t, err)
	compressed, err := New(true).Encode(a)
	require.NoError(t, err)

	assert.Equal(t, tagPlain, plain[0])
	assert.Equal(t, tagZstd, compressed[0])
	assert.Less(t, len(compressed), len(plain))
}

func TestDecodeAcceptsEitherTag(t *testing.T) {
	a := sampleArticle()
	compressed, err := New(true).Encode(a)
	require.NoError(t, err)

	got, err := New(false).Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := New(false)
	first, err := c.Encode(sampleArticle())
	require.NoError(t, err)
	second, err := c.Encode(sampleArticle())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestZeroTimesSurvive(t *testing.T) {
	c := New(false)
	a := &feed.Article{ID: "x", FeedID: "demo", Title: "No dates"}

	data, err := c.Encode(a)
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)

	assert.True(t, got.Published.IsZero())
	assert.True(t, got.Fetched.IsZero())
}

func TestDecodeCorrupt(t *testing.T) {
	c := New(false)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x7f, 0x01}},
		{"bad cbor", []byte{tagPlain, 0xff, 0xff}},
		{"bad zstd", []byte{tagZstd, 0x01, 0x02, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
