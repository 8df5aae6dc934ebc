// Package lime implements the client side of the LIME protocol spoken by
// the messaging gateway.
//
// A Client owns one Transport (a websocket by default) and:
//   - Negotiates the session (new, negotiating, authenticating, established)
//   - Authenticates with an issuer-signed token (external scheme)
//   - Sets presence with a routing rule and the receipt events it wants
//   - Correlates command responses by id
//   - Answers server pings and acknowledges inbound messages
//
// Transports are never reused: a closed client cannot be reconnected.
package lime
