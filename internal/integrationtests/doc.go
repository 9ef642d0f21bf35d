// Package integrationtests exercises the application end to end: HCL
// definitions are loaded through the app, run by the engine and, for
// triggers, dispatched by the monitor.
package integrationtests
