// Package transport owns the host channel to the messaging agent.
//
// It is the only package that touches raw wire frames. Two addressing modes
// exist:
//
//   - Broadcast: a frame is posted to every connected agent. Replies are
//     correlated by message tag (the channel has at most one well-behaved
//     respondent per tag).
//   - Addressed: a frame is sent to one agent by installation id and the
//     reply is correlated by a per-call id.
//
// Every call that expects a reply carries an explicit timeout. Timing out
// resolves to a negative ("not detected") result, not an error: absence of
// an agent is an expected outcome.
//
// The Host abstraction keeps the actual channel (WebSocket today)
// swappable without touching the orchestrator.
package transport
