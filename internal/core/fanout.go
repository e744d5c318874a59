package core

import "github.com/rs/zerolog/log"

// Broadcast sends one frame to every connection, skipping except.
func Broadcast(conns []SignalConnection, except ConnID, data Frame) PublishResult {
	res := PublishResult{}
	for _, c := range conns {
		if c == nil || (except != "" && c.ID() == except) {
			continue
		}
		if err := c.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.fanout").Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Send delivers one frame to a single connection.
func Send(c SignalConnection, data Frame) PublishResult {
	if c == nil {
		return PublishResult{}
	}
	return Broadcast([]SignalConnection{c}, "", data)
}
