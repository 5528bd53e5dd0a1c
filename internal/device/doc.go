// Package device describes what the bridge sees of a BLE peripheral before it
// connects: advertisements, the scanner that reports them, and UUID helpers.
package device
