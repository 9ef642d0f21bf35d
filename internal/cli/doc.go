// Package cli turns command-line arguments into a Command, runs it against
// an app.App and maps the outcome onto process exit codes: 0 for success,
// 1 for a failed run or monitor, 2 for invalid input or definitions.
package cli
