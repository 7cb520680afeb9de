// Package audit implements the asynchronous audit event pipeline: the
// event model, body sanitization, pluggable sinks, and the buffered
// dispatcher that decouples event persistence from the request path.
package audit
