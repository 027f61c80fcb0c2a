// Package eventbus implements the in-memory typed publish/subscribe registry
// that sits behind each stream connection.
//
// Events are a closed set of payload records keyed by Channel. Every payload
// type reports its own channel, so a handler subscribed to a channel only ever
// sees payloads of that channel's shape:
//
//	unsubscribe := eventbus.On(bus, func(a eventbus.ThreatAlert) {
//	    log.Printf("threat from %s (%.2f)", a.SourceIP, a.Confidence)
//	})
//	defer unsubscribe()
//
// Wire frames are {"type": <channel>, "data": <payload>} and are converted
// with Decode and Encode.
package eventbus
