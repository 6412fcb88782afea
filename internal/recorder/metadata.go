package recorder

import (
	"bytes"
	"strings"

	"github.com/bogem/id3v2"
	"github.com/dhowden/tag"
)

// unknownTitle is what some encoders write when no track title is known.
const unknownTitle = "Unknown"

var id3Magic = []byte("ID3")

// maxTagProbes bounds how many "ID3" candidates are tried per chunk; audio
// payload occasionally contains the magic by accident.
const maxTagProbes = 4

// TrackInfo is the tag metadata recovered from a chunk.
type TrackInfo struct {
	Title  string
	Artist string
}

// InspectChunk looks for embedded tag metadata in a raw stream chunk.
// It reports ok only when a title other than "Unknown" was found. A chunk
// that does not contain a complete tag is the common case and is not an error.
func InspectChunk(chunk []byte) (info TrackInfo, ok bool) {
	defer func() {
		// Tag parsers have panicked on truncated frames before.
		if recover() != nil {
			info, ok = TrackInfo{}, false
		}
	}()

	if info, ok = inspectID3v2(chunk); ok {
		return info, true
	}
	return inspectContainer(chunk)
}

// inspectID3v2 parses the first well-formed ID3v2 tag found anywhere in chunk.
func inspectID3v2(chunk []byte) (TrackInfo, bool) {
	offset := 0
	for probes := 0; probes < maxTagProbes; probes++ {
		i := bytes.Index(chunk[offset:], id3Magic)
		if i < 0 {
			return TrackInfo{}, false
		}
		start := offset + i

		t, err := id3v2.ParseReader(bytes.NewReader(chunk[start:]), id3v2.Options{Parse: true})
		if err == nil && t.HasFrames() {
			info := TrackInfo{
				Title:  cleanTag(t.Title()),
				Artist: cleanTag(t.Artist()),
			}
			if usableTitle(info.Title) {
				return info, true
			}
		}
		offset = start + len(id3Magic)
	}
	return TrackInfo{}, false
}

// inspectContainer covers ID3v1 trailers and the non-MP3 containers that
// tag.ReadFrom recognises at the start of the chunk.
func inspectContainer(chunk []byte) (TrackInfo, bool) {
	m, err := tag.ReadFrom(bytes.NewReader(chunk))
	if err != nil || m == nil {
		return TrackInfo{}, false
	}
	info := TrackInfo{
		Title:  cleanTag(m.Title()),
		Artist: cleanTag(m.Artist()),
	}
	return info, usableTitle(info.Title)
}

// cleanTag strips the NUL padding of fixed-width ID3v1 fields and surrounding space.
func cleanTag(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

func usableTitle(title string) bool {
	return title != "" && title != unknownTitle
}
