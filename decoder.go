package nexusconsumer

import (
	"fmt"
	"mime"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/hatsunemiku3939/nexusconsumer/internal/jsoncodec"
)

// Decoder turns a raw payload into the consumer's message type.
type Decoder[T any] interface {
	Decode(contentType string, raw []byte) (T, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(contentType string, raw []byte) (T, error)

// Decode calls f.
func (f DecoderFunc[T]) Decode(contentType string, raw []byte) (T, error) {
	return f(contentType, raw)
}

// JSONDecoder decodes JSON payloads regardless of the declared content type.
type JSONDecoder[T any] struct{}

// Decode implements Decoder.
func (JSONDecoder[T]) Decode(_ string, raw []byte) (T, error) {
	var msg T
	if err := jsoncodec.Unmarshal(raw, &msg); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return msg, nil
}

// ProtoDecoder decodes application/x-protobuf payloads in the binary wire
// format and anything else as protojson.
type ProtoDecoder[T proto.Message] struct {
	New func() T
}

// NewProtoDecoder returns a ProtoDecoder allocating messages with newFn.
func NewProtoDecoder[T proto.Message](newFn func() T) ProtoDecoder[T] {
	return ProtoDecoder[T]{New: newFn}
}

// Decode implements Decoder.
func (d ProtoDecoder[T]) Decode(contentType string, raw []byte) (T, error) {
	msg := d.New()
	var err error
	if IsProtobuf(contentType) {
		err = proto.Unmarshal(raw, msg)
	} else {
		err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(raw, msg)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return msg, nil
}

// IsProtobuf reports whether contentType names the protobuf wire format.
func IsProtobuf(contentType string) bool {
	return mediaType(contentType) == ContentTypeProtobuf
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
