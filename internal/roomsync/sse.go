package roomsync

import (
	"bufio"
	"io"
	"strings"

	"github.com/parley-chat/parley/internal/models"
)

// frame is one raw server-sent-events frame: the event name plus the
// concatenated data lines, before payload decoding.
type frame struct {
	event string
	data  string
}

// frameReader incrementally parses an SSE byte stream into frames.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// next blocks until a complete frame arrives. Comment lines and fields the
// client does not use (id, retry) are skipped. Frames that carry neither an
// event name nor data (pure comments, used by some servers as keepalives)
// are skipped as well. Returns the underlying read error, io.EOF included,
// when the stream ends.
func (fr *frameReader) next() (frame, error) {
	var f frame
	var dataLines []string

	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			return frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Frame boundary
			if f.event == "" && len(dataLines) == 0 {
				continue
			}
			f.data = strings.Join(dataLines, "\n")
			return f, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
}

// decodeFrame turns a raw frame into a typed stream event. A frame with no
// event name is treated as a keepalive.
func decodeFrame(f frame) (models.StreamEvent, error) {
	kind := models.StreamEventKind(f.event)
	if f.event == "" {
		kind = models.EventKeepalive
	}

	payload, err := models.DecodeStreamPayload(f.data)
	if err != nil {
		return models.StreamEvent{}, err
	}
	return models.StreamEvent{Kind: kind, Payload: payload}, nil
}
