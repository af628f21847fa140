// Package upstream is the proxy's only way of talking to upstream services.
//
// [Client] wraps net/http with per-request timeouts, pooled connections and a
// body size limit. [Classify] turns any [Response] into either nil or an
// [*Error] tagged with one of four kinds, and [Error.HTTPStatus] maps that
// kind to the status code the proxy answers with. Every route handler goes
// through this one mapping.
package upstream
