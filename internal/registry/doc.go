// Package registry is the central "glue" between definitions and code.
//
// It maps the handler names used in pipeline definitions (e.g. "http_request")
// to the compiled Go functions that implement them, and it holds the
// finalized pipelines and the triggers bound to them. During startup the
// registry is populated by the core modules and the definition loader, then
// validated so that a broken binding fails before the first run instead of
// in the middle of one.
package registry
