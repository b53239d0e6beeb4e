// Package compress implements the payload compression codec. Every
// plaintext payload carries a one-byte algorithm tag: 0 uncompressed,
// 1 LZMA, 2 zlib (the published protocol's values). Encoding produces
// zlib or uncompressed payloads; LZMA is legacy inbound only. Unknown
// tags decode as uncompressed with a warning, because a misidentified
// content byte must not strand a mailbox.
package compress

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"
)

// Algorithm is the one-byte compression tag on the front of every
// plaintext payload.
type Algorithm byte

// Protocol tag values.
const (
	Uncompressed Algorithm = 0
	LZMA         Algorithm = 1
	ZLIB         Algorithm = 2
)

// MaxDecompressedSize caps the inflated payload so a hostile packet
// cannot exhaust memory. Matches the original's 25 MiB decode buffer.
const MaxDecompressedSize = 25 * 1024 * 1024

var log = logrus.WithField("component", "compress")

// String returns the tag's name for logging.
func (a Algorithm) String() string {
	switch a {
	case Uncompressed:
		return "uncompressed"
	case LZMA:
		return "lzma"
	case ZLIB:
		return "zlib"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// Compress encodes data under the given algorithm and prefixes the
// tag byte. LZMA is not produced; a request for it falls back to
// uncompressed, mirroring the legacy-inbound-only contract.
func Compress(data []byte, alg Algorithm) ([]byte, error) {
	if alg == LZMA {
		log.Warn("LZMA compression not supported, storing uncompressed")
		alg = Uncompressed
	}

	switch alg {
	case ZLIB:
		var buf bytes.Buffer
		buf.WriteByte(byte(ZLIB))
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case Uncompressed:
		out := make([]byte, 1+len(data))
		out[0] = byte(Uncompressed)
		copy(out[1:], data)
		return out, nil

	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", alg)
	}
}

// Decompress reads the tag byte and inflates the rest. Unknown tags
// are passed through as uncompressed rather than treated as fatal.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	alg := Algorithm(data[0])
	body := data[1:]

	switch alg {
	case Uncompressed:
		return bytes.Clone(body), nil

	case ZLIB:
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out, nil

	case LZMA:
		return lzmaDecompress(body)

	default:
		log.WithField("tag", byte(alg)).Warn("unknown compression tag, passing payload through")
		return bytes.Clone(body), nil
	}
}

// lzmaDecompress inflates a legacy LZMA payload. The wire carries the
// five property bytes followed by the raw stream without the classic
// eight-byte size field, so the unknown-size marker is spliced in
// before handing the stream to the decoder.
func lzmaDecompress(body []byte) ([]byte, error) {
	const propsLen = 5
	if len(body) < propsLen {
		return nil, fmt.Errorf("lzma: payload shorter than properties")
	}

	header := make([]byte, 0, propsLen+8+len(body)-propsLen)
	header = append(header, body[:propsLen]...)
	header = append(header, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	header = append(header, body[propsLen:]...)

	r, err := lzma.NewReader(bytes.NewReader(header))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	return out, nil
}
