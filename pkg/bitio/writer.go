// Package bitio is a thin buffered writer exposing the little-endian
// integer primitives, C-string and literal primitives, and the qCompress
// envelope that the APXTLM encoder frames its records with.
package bitio

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultBufferSize is the output-sink buffering applied to every
// stream: 100 KiB, flushed on Stop or an explicit Flush.
const DefaultBufferSize = 100 * 1024

// Writer wraps a buffered sink with the primitives the APXTLM wire format
// needs. Any I/O error is fatal and surfaced to the caller on the next
// call (sticky error, checked by every write).
type Writer struct {
	w   *bufio.Writer
	err error
}

// New wraps sink in a Writer with the default 100 KiB buffer.
func New(sink io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(sink, DefaultBufferSize)}
}

// Err returns the first I/O error encountered, if any.
func (w *Writer) Err() error {
	return w.err
}

// Flush flushes the underlying buffer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = err
	}
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(p); err != nil {
		w.err = err
	}
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) {
	w.write([]byte{v})
}

// U16 writes a little-endian uint16.
func (w *Writer) U16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.write(buf[:])
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.write(buf[:])
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.write(buf[:])
}

// I32 writes a little-endian int32.
func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

// F32 writes a little-endian IEEE-754 binary32.
func (w *Writer) F32(bits uint32) {
	w.U32(bits)
}

// F16 writes a little-endian IEEE-754 binary16.
func (w *Writer) F16(bits uint16) {
	w.U16(bits)
}

// U32BE writes a big-endian uint32 — used only by the qCompress length
// prefix.
func (w *Writer) U32BE(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.write(buf[:])
}

// Raw writes p verbatim.
func (w *Writer) Raw(p []byte) {
	w.write(p)
}

// CString writes s as UTF-8 bytes followed by a NUL terminator.
func (w *Writer) CString(s string) {
	w.write([]byte(s))
	w.write([]byte{0})
}

// Literal writes the 0xFF sentinel byte followed by a C-string. The current
// wire format always inlines literals this way; callers that maintain an
// internal dedup table (see internal/litern) must not change this byte
// sequence.
func (w *Writer) Literal(s string) {
	w.U8(0xFF)
	w.CString(s)
}

// QCompress deflates payload into the qCompress envelope:
// uncompressed_length (u32 BE) followed by a raw zlib stream (header +
// deflate + adler32). Byte-for-byte reproducible for a given zlib
// implementation and compression level.
func QCompress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("bitio: qcompress: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("bitio: qcompress write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bitio: qcompress close: %w", err)
	}

	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], buf.Bytes())
	return out, nil
}

// QDecompress reverses QCompress, returning the original payload.
func QDecompress(envelope []byte) ([]byte, error) {
	if len(envelope) < 4 {
		return nil, fmt.Errorf("bitio: qdecompress: envelope too short")
	}
	want := binary.BigEndian.Uint32(envelope[:4])
	zr, err := zlib.NewReader(bytes.NewReader(envelope[4:]))
	if err != nil {
		return nil, fmt.Errorf("bitio: qdecompress: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("bitio: qdecompress read: %w", err)
	}
	if uint32(len(out)) != want {
		return nil, fmt.Errorf("bitio: qdecompress: length mismatch, header says %d, got %d", want, len(out))
	}
	return out, nil
}

// QCompressPayload writes p through the qCompress envelope directly to the
// writer, prefixed by its own little-endian u32 compressed-length header as
// used by the jso/zip record kinds (the outer length is the size of the
// qCompress envelope itself, not the original payload).
func (w *Writer) QCompressPayload(p []byte) error {
	env, err := QCompress(p)
	if err != nil {
		w.err = err
		return err
	}
	w.U32(uint32(len(env)))
	w.write(env)
	return w.err
}
