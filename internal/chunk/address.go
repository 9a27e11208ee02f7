package chunk

import (
	"fmt"
	"regexp"
)

// Reference locates a chunk on the transport.
type Reference struct {
	GuildID   string
	ChannelID string
	MessageID string
}

var addressPattern = regexp.MustCompile(`^https://([^/]+)/channels/(\d+)/(\d+)/(\d+)$`)

// FormatAddress serializes a reference as https://{host}/channels/{guild}/{channel}/{message}.
func FormatAddress(host string, ref Reference) string {
	return fmt.Sprintf("https://%s/channels/%s/%s/%s", host, ref.GuildID, ref.ChannelID, ref.MessageID)
}

// ParseAddress is the inverse of FormatAddress.
func ParseAddress(address string) (Reference, error) {
	m := addressPattern.FindStringSubmatch(address)
	if m == nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedAddress, address)
	}
	return Reference{GuildID: m[2], ChannelID: m[3], MessageID: m[4]}, nil
}
