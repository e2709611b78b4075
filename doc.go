// Package compose implements a streaming HTML layout composer: it parses a
// base template (and an optional child template) containing declarative
// fragment placeholders, fetches each fragment from an upstream HTTP
// endpoint, and streams the assembled document to the client while
// fragments are still in flight.
//
// The package exposes two pure entry points, [Parse] and [PrepareRender], so
// that a host can cache the result of Parse independently of any
// request-scoped context overrides (see [Config] and [Runtime] for how a
// host wires template sources, fragment context, custom tags, and tracing
// together).
package compose
