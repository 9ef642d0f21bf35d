// Package hcl loads pipeline and trigger definitions from HCL files into a
// registry. It is responsible for file parsing, translating step blocks into
// pipeline steps, and binding evaluated arguments to handler input structs.
package hcl
