package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	headerAuthorization = "Authorization"
	headerVersion       = "version"
	acceptVersions      = "1.2,1.1"
	contentTypeJSON     = "application/json"
)

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames splits one websocket message into STOMP frames.
// Heart-beat newlines decode to nothing.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("decode stomp frame: %w", err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

func connectFrame(host, token string) *frame.Frame {
	return frame.New(frame.CONNECT,
		frame.AcceptVersion, acceptVersions,
		frame.Host, host,
		frame.HeartBeat, "0,0",
		headerAuthorization, "Bearer "+token,
	)
}

func subscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

func unsubscribeFrame(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

func sendFrame(destination string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, contentTypeJSON,
	)
	f.Body = body
	return f
}

func errorDetail(f *frame.Frame) string {
	if msg := f.Header.Get(frame.Message); msg != "" {
		return msg
	}
	if len(f.Body) > 0 {
		return string(f.Body)
	}
	return "broker returned ERROR"
}

// JSON decodes a payload into T.
func JSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Decoded adapts a typed handler to a raw subscription handler. A payload
// that fails to decode is logged and dropped; the subscription carries on.
func Decoded[T any](logger *slog.Logger, destination string, decode func([]byte) (T, error), handler func(T)) func([]byte) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(body []byte) {
		v, err := decode(body)
		if err != nil {
			logger.Warn("dropping malformed payload", "destination", destination, "error", err)
			return
		}
		handler(v)
	}
}
