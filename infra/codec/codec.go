// Package codec turns event.Event values into bytes and back. Binary is
// the protobuf wire encoding used by journals and Kafka; JSON is the
// text form used by websocket feeds.
package codec

import (
	"errors"
	"fmt"

	"bookbuilder/domain/event"
)

var ErrMalformed = errors.New("codec: malformed event")

type Codec interface {
	Encode(event.Event) ([]byte, error)
	Decode([]byte) (event.Event, error)
}

// ByName returns the codec registered as "binary" or "json".
func ByName(name string) (Codec, error) {
	switch name {
	case "", "binary", "proto":
		return Binary{}, nil
	case "json":
		return JSON{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
