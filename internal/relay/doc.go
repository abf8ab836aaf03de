// Package relay forwards the event stream to external brokers.
//
// A Relay is an ordinary subscriber of the synchronizer. It tracks a
// watermark, replays after a resync and acknowledges an event only once
// every sink accepted it. A sink that rejects an event is retried with
// capped backoff before the next event is read, so the stream leaves in
// order and nothing behind the watermark is skipped.
//
// Sinks: a RabbitMQ fanout exchange (AMQP priority follows the event
// class) and a Kafka topic keyed by the primary entity.
package relay
