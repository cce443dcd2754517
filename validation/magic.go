package validation

import (
	"bytes"
)

// PrefixSize is the most the validator ever reads from a byte source
const PrefixSize = 1024

type signature struct {
	format string
	magic  []byte
}

// videoSignatures is ordered; Matroska and WebM share a magic and mkv wins when sniffing
var videoSignatures = []signature{
	{"mp4", []byte{0x00, 0x00, 0x00, 0x20, 0x66, 0x74, 0x79, 0x70}}, // MP4 container
	{"mp4", []byte{0x00, 0x00, 0x00, 0x18, 0x66, 0x74, 0x79, 0x70}}, // Alternative MP4
	{"mov", []byte{0x00, 0x00, 0x00, 0x14, 0x66, 0x74, 0x79, 0x70}}, // QuickTime MOV
	{"wmv", []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11}}, // Windows Media Video
	{"flv", []byte{0x46, 0x4C, 0x56, 0x01}},                         // Flash Video
	{"mkv", []byte{0x1A, 0x45, 0xDF, 0xA3}},                         // Matroska / WebM
}

var mp4Brands = [][]byte{
	[]byte("isom"),
	[]byte("mp41"),
	[]byte("mp42"),
	[]byte("avc1"),
	[]byte("dash"),
	[]byte("mp4v"),
	[]byte("M4A "),
	[]byte("M4V "),
	[]byte("qt  "),
	[]byte("3gp4"),
	[]byte("3gp5"),
	[]byte("heic"),
}

// SniffFormat names the container of a prefix for logging. It is broader than the acceptance
// rule applied by the validator and returns ok=false for anything it does not recognize.
func SniffFormat(data []byte) (string, bool) {
	if len(data) < 12 {
		return "", false
	}

	for _, sig := range videoSignatures {
		if !bytes.HasPrefix(data, sig.magic) {
			continue
		}
		if bytes.Equal(sig.magic[4:min(8, len(sig.magic))], []byte("ftyp")) {
			if brand := mp4Brand(data); brand != "" {
				if brand == "qt  " {
					return "mov", true
				}
				return sig.format, true
			}
			continue
		}
		return sig.format, true
	}

	// MP4 files with other box sizes
	if hasFtyp(data) && mp4Brand(data) != "" {
		if mp4Brand(data) == "qt  " {
			return "mov", true
		}
		return "mp4", true
	}

	if bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("AVI ")) {
		return "avi", true
	}

	return "", false
}

// mp4Brand returns the major brand at offset 8 if it is a known one
func mp4Brand(data []byte) string {
	if len(data) < 12 {
		return ""
	}
	brand := data[8:12]
	for _, valid := range mp4Brands {
		if bytes.Equal(brand, valid) {
			return string(valid)
		}
	}
	return ""
}

func hasFtyp(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp"))
}

// hasMOVSignature matches the 32-byte ftyp box size that QuickTime writers emit
func hasMOVSignature(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte{0x00, 0x00, 0x00, 0x20})
}
