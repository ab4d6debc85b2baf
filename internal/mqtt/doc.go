// Package mqtt forwards conversation turn events to an MQTT broker so
// operators can watch gitbot from existing dashboards.
//
// The forwarder uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Every event from
// the in-process bus is published as JSON to {base_topic}/events. A
// retained availability message ("online"/"offline", with a will for
// unexpected disconnects) lives at {base_topic}/availability, and
// daily turn counters are published retained to {base_topic}/stats.
package mqtt
