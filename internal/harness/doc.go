// Package harness runs YAML scan scenarios against the real scanner.
//
// A scenario scripts a camera (permission, available devices, failures),
// then drives the scanner step by step: camera setup, live frames, gallery
// images, resets, timer advances and camera swaps. Every applied transition
// and every callback is captured into an ordered trace. Assertions check
// the trace and the final state, and golden files pin the whole trace.
//
// Runs are deterministic: the not_found timer runs on a manual scheduler,
// the session id is fixed and each step waits until the engine has applied
// everything it caused before the next step starts.
//
// Example:
//
//	name: burst_lock
//	description: only the first code of a burst is accepted
//	steps:
//	  - op: setup
//	  - op: frame
//	    codes:
//	      - {payload: "A", symbology: QR}
//	  - op: frame
//	    codes:
//	      - {payload: "B", symbology: QR}
//	assertions:
//	  - type: trace_count
//	    to: processing
//	    count: 1
package harness
