// Package goble implements explorer.Radio on top of github.com/go-ble/ble.
//
// Every blocking go-ble call runs off the caller's goroutine: dials run on
// their own goroutine, and GATT requests run on a per-link serial queue.
// Results are reported to the observer through one adapter-wide queue, so
// observer callbacks never run inside a Radio method and arrive in the order
// the stack produced them.
package goble
