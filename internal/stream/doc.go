// Package stream publishes the ordered event sequence of one analysis session.
//
// A Publisher owns a bounded channel. The orchestrator is its only producer
// and the transport its only consumer. Sequence numbers start at 1 and have
// no gaps; exactly one terminal event (complete or error) is ever enqueued,
// and the channel is closed immediately after it. Once a publisher is
// cancelled nothing further is enqueued.
package stream
