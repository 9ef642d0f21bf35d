// Package app wires settings, logging, module registration, definition
// loading and persistence into a single App. The CLI drives it through
// List, RunPipeline and Monitor; nothing here knows about flags or exit
// codes.
package app
