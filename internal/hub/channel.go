package hub

import "strings"

// Channel is a logical subscription scope.
type Channel int

const (
	Lights Channel = iota + 1
	Topology
	Heating
	Blinds
)

var channelPaths = map[Channel]string{
	Lights:   "/lights/ws/",
	Topology: "/rcm/ws/",
	Heating:  "/heating/ws/",
	Blinds:   "/blinds/ws/",
}

// Channels lists every channel in declaration order.
func Channels() []Channel {
	return []Channel{Lights, Topology, Heating, Blinds}
}

// Path is the URL path prefix subscribers of the channel connect on.
func (c Channel) Path() string { return channelPaths[c] }

func (c Channel) String() string {
	switch c {
	case Lights:
		return "lights"
	case Topology:
		return "rcm"
	case Heating:
		return "heating"
	case Blinds:
		return "blinds"
	}
	return "unknown"
}

// ParseChannel maps a subscription path such as "/lights/ws/42" onto its channel.
func ParseChannel(path string) (Channel, bool) {
	for _, c := range Channels() {
		if strings.HasPrefix(path, c.Path()) {
			return c, true
		}
	}
	return 0, false
}
