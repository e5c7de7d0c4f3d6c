// Package protocol defines the envelopes exchanged between voicerelay clients
// and the server, the tagged-union parser for inbound frames, and the wire
// codecs negotiated per connection.
//
// Every envelope carries a "type" discriminator. Inbound frames are decoded in
// two steps: the discriminator first, then a strongly typed variant for that
// type. Anything that cannot be decoded into a known variant becomes Unknown,
// which the router treats as a no-op.
package protocol
