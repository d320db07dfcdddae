// Package codec frames version blobs with a one-byte compression tag so a
// collection can hold blobs written under different compression settings.
package codec

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression applied to a blob. Tags are the first
// byte of every stored blob; changing the values breaks existing blobs.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ParseTag parses a compression name from configuration. An empty name means None.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Codec writes new blobs with a fixed tag and reads blobs of any tag.
type Codec struct {
	tag   Tag
	level zstd.EncoderLevel
}

// New returns a codec that compresses with tag. level applies to zstd only;
// 0 selects the library default.
func New(tag Tag, level int) (*Codec, error) {
	switch tag {
	case None, LZ4, Zstd:
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	c := &Codec{tag: tag, level: zstd.SpeedDefault}
	if level != 0 {
		c.level = zstd.EncoderLevelFromZstd(level)
	}
	return c, nil
}

// Tag returns the tag new blobs are written with.
func (c *Codec) Tag() Tag { return c.tag }

// NewWriter writes the tag byte to w and returns a writer that compresses
// into w. Close must be called to flush; it does not close w.
func (c *Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write([]byte{byte(c.tag)}); err != nil {
		return nil, fmt.Errorf("writing compression tag: %w", err)
	}
	switch c.tag {
	case LZ4:
		return lz4.NewWriter(w), nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// NewReader reads the tag byte from r and returns a reader yielding the
// decompressed content.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	b, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading compression tag: %w", err)
	}
	switch Tag(b) {
	case None:
		return io.NopCloser(br), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(br)), nil
	case Zstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown compression tag %d", b)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
