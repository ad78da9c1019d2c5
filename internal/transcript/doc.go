// Package transcript records relayed chat events without slowing delivery.
//
// Record hands events to a bounded queue and returns immediately. One
// worker goroutine batches them into the relay event store. A full queue
// drops the event and increments the transcript_dropped_total counter.
package transcript
