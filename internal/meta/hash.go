package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	id3v2HeaderLen = 10
	id3v1Len       = 128
	id3v2FooterBit = 0x10
)

// Payload locates the audio bytes of an mp3 file, between any leading
// ID3v2 tag and any trailing ID3v1 block
type Payload struct {
	Start int64
	End   int64
}

// Len is the payload size in bytes
func (p Payload) Len() int64 {
	return p.End - p.Start
}

// LocatePayload finds the audio payload within r of the given size
func LocatePayload(r io.ReaderAt, size int64) (Payload, error) {
	p := Payload{End: size}

	if size >= id3v2HeaderLen {
		hdr := make([]byte, id3v2HeaderLen)
		if _, err := r.ReadAt(hdr, 0); err != nil {
			return p, fmt.Errorf("failed to read header: %w", err)
		}
		if string(hdr[:3]) == "ID3" {
			tagLen, ok := syncsafe(hdr[6:10])
			if !ok {
				return p, fmt.Errorf("malformed ID3v2 header size")
			}
			p.Start = id3v2HeaderLen + tagLen
			if hdr[5]&id3v2FooterBit != 0 {
				p.Start += id3v2HeaderLen
			}
			if p.Start > size {
				return p, fmt.Errorf("ID3v2 tag extends past end of file")
			}
		}
	}

	if p.End-p.Start >= id3v1Len {
		trailer := make([]byte, 3)
		if _, err := r.ReadAt(trailer, p.End-id3v1Len); err != nil {
			return p, fmt.Errorf("failed to read trailer: %w", err)
		}
		if string(trailer) == "TAG" {
			p.End -= id3v1Len
		}
	}
	return p, nil
}

// HashPayload returns the hex SHA-256 of the audio payload within r
func HashPayload(r io.ReaderAt, size int64) (string, error) {
	p, err := LocatePayload(r, size)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, p.Start, p.Len())); err != nil {
		return "", fmt.Errorf("failed to hash payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the content hash of the file at path
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return HashPayload(f, info.Size())
}

func syncsafe(b []byte) (int64, bool) {
	var n int64
	for _, c := range b {
		if c&0x80 != 0 {
			return 0, false
		}
		n = n<<7 | int64(c)
	}
	return n, true
}
