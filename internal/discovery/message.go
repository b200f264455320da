package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxDatagram is the largest announcement read from the socket.
const MaxDatagram = 1500

var (
	ErrNotUTF8     = errors.New("discovery: payload is not valid utf-8")
	ErrInvalidJSON = errors.New("discovery: payload is not a json object")
)

// Message is the announcement an EFB broadcasts to find GDL90 sources.
//
//	{"App":"ForeFlight","GDL90":{"port":4000}}
//
// An empty App or port 0 fails validation and the announcement is dropped:
// port 0 is not a destination and App is the only name the UI can show.
type Message struct {
	App   string     `json:"App" validate:"required"`
	GDL90 GDL90Block `json:"GDL90"`
}

type GDL90Block struct {
	Port int `json:"port" validate:"required,min=1,max=65535"`
}

var validate = validator.New()

// ParseMessage decodes and validates one announcement payload.
func ParseMessage(b []byte) (Message, error) {
	var m Message
	if !utf8.Valid(b) {
		return m, ErrNotUTF8
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := validate.Struct(m); err != nil {
		return Message{}, fmt.Errorf("discovery: invalid announcement: %w", err)
	}
	return m, nil
}
