package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// MaxAnnouncementSize is the receive buffer for discovery packets.
const MaxAnnouncementSize = 4096

var ErrMalformedAnnouncement = errors.New("malformed announcement")

// Announcement is the presence record broadcast over UDP.
type Announcement struct {
	Username  string `json:"username" mapstructure:"username"`
	Port      int    `json:"port" mapstructure:"port"`
	PublicKey string `json:"publicKey" mapstructure:"publicKey"`
}

// announcementJSON is the on-wire shape; port travels as a string.
type announcementJSON struct {
	Username  string `json:"username"`
	Port      string `json:"port"`
	PublicKey string `json:"publicKey"`
}

// Marshal encodes a as JSON with the port written as a string.
func (a Announcement) Marshal() ([]byte, error) {
	return json.Marshal(announcementJSON{
		Username:  a.Username,
		Port:      strconv.Itoa(a.Port),
		PublicKey: a.PublicKey,
	})
}

// ParseAnnouncement decodes a discovery packet. Unknown fields are ignored
// and port may be a string or a number. Records without a username, a usable
// port or a public key are rejected with ErrMalformedAnnouncement.
func ParseAnnouncement(data []byte) (Announcement, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}

	var a Announcement
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &a,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Announcement{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}

	a.Username = strings.TrimSpace(a.Username)
	a.PublicKey = strings.TrimSpace(a.PublicKey)
	switch {
	case a.Username == "":
		return Announcement{}, fmt.Errorf("%w: missing username", ErrMalformedAnnouncement)
	case a.Port <= 0 || a.Port > 65535:
		return Announcement{}, fmt.Errorf("%w: invalid port %d", ErrMalformedAnnouncement, a.Port)
	case a.PublicKey == "":
		return Announcement{}, fmt.Errorf("%w: missing public key", ErrMalformedAnnouncement)
	}
	return a, nil
}
