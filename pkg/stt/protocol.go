package stt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message paths of the speech WebSocket protocol.
const (
	pathConfig      = "speech.config"
	pathAudio       = "audio"
	pathStart       = "speech.startDetected"
	pathHypothesis  = "speech.hypothesis"
	pathFragment    = "speech.fragment"
	pathEnd         = "speech.endDetected"
	pathPhrase      = "speech.phrase"
	pathTurnStart   = "turn.start"
	pathTurnEnd     = "turn.end"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Phrase recognition statuses reported by the service.
const (
	phraseSuccess        = "Success"
	phraseNoMatch        = "NoMatch"
	phraseInitialSilence = "InitialSilenceTimeout"
	phraseBabbleTimeout  = "BabbleTimeout"
	phraseEndOfDictation = "EndOfDictation"
	phraseError          = "Error"
)

var errMalformedMessage = errors.New("stt: malformed service message")

// newID returns a request or connection id: a UUID without dashes.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// speechConfig is the body of the speech.config message.
type speechConfig struct {
	Context struct {
		System struct {
			Version string `json:"version"`
		} `json:"system"`
		OS struct {
			Platform string `json:"platform"`
			Name     string `json:"name"`
		} `json:"os"`
		Audio struct {
			Source struct {
				Type string `json:"type"`
			} `json:"source"`
		} `json:"audio"`
	} `json:"context"`
}

// configMessage builds the speech.config text frame.
func configMessage(requestID string) ([]byte, error) {
	var cfg speechConfig
	cfg.Context.System.Version = "1.0.0"
	cfg.Context.OS.Platform = runtime.GOOS
	cfg.Context.OS.Name = "go-voiceloop"
	cfg.Context.Audio.Source.Type = "Microphones"

	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "Path: %s\r\nX-RequestId: %s\r\nX-Timestamp: %s\r\nContent-Type: application/json\r\n\r\n",
		pathConfig, requestID, timestamp())
	b.Write(body)
	return b.Bytes(), nil
}

// audioMessage builds a binary audio frame: a big-endian uint16 header
// length, the header block, then the payload. An empty payload marks the
// end of audio.
func audioMessage(requestID string, payload []byte) []byte {
	header := fmt.Sprintf("Path: %s\r\nX-RequestId: %s\r\nX-Timestamp: %s\r\nContent-Type: audio/x-wav\r\n",
		pathAudio, requestID, timestamp())

	msg := make([]byte, 2+len(header)+len(payload))
	binary.BigEndian.PutUint16(msg, uint16(len(header)))
	copy(msg[2:], header)
	copy(msg[2+len(header):], payload)
	return msg
}

// wavHeader returns a RIFF header for an unbounded 16-bit mono PCM stream.
func wavHeader(sampleRate int) []byte {
	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 0)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], 1) // mono
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(h[32:], 2)
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], 0)
	return h
}

// serviceMessage is a parsed text frame from the service.
type serviceMessage struct {
	Path      string
	RequestID string
	Body      []byte
}

// parseMessage splits a text frame into headers and body.
func parseMessage(data []byte) (serviceMessage, error) {
	head, body, ok := bytes.Cut(data, []byte("\r\n\r\n"))
	if !ok {
		return serviceMessage{}, errMalformedMessage
	}

	var msg serviceMessage
	for _, line := range strings.Split(string(head), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "path":
			msg.Path = strings.TrimSpace(value)
		case "x-requestid":
			msg.RequestID = strings.TrimSpace(value)
		}
	}
	if msg.Path == "" {
		return serviceMessage{}, errMalformedMessage
	}
	msg.Body = body
	return msg, nil
}

// hypothesis is the body of speech.hypothesis and speech.fragment.
type hypothesis struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
}

// phrase is the body of speech.phrase in simple output format.
type phrase struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

// ticks converts the service's 100ns units.
func ticks(n int64) time.Duration {
	return time.Duration(n) * 100
}

// toUtterance maps a phrase result onto an Utterance.
func (p phrase) toUtterance() *Utterance {
	switch p.RecognitionStatus {
	case phraseSuccess:
		text := strings.TrimSpace(p.DisplayText)
		if text == "" {
			return NoMatch()
		}
		return &Utterance{
			Text:     text,
			Status:   StatusRecognized,
			Offset:   ticks(p.Offset),
			Duration: ticks(p.Duration),
		}
	case phraseNoMatch, phraseInitialSilence, phraseBabbleTimeout, phraseEndOfDictation:
		return NoMatch()
	case phraseError:
		return Canceled(ReasonError, "service reported a recognition error")
	default:
		return Canceled(ReasonError, "unknown recognition status "+p.RecognitionStatus)
	}
}
