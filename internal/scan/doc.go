// Package scan holds the value types shared by every stage of the
// scan-detection pipeline: symbologies and the allowed-symbology filter,
// raw detected-code objects, normalized detection events, still-image
// relevance tickets and the error taxonomy.
//
// Everything in this package is immutable once constructed so values can
// cross goroutine boundaries (capture goroutine, still-image goroutine,
// engine loop) without copying or locking.
package scan
