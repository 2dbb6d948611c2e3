// Package service wires the book to its feeds and egress: it applies
// events under a lock, records metrics, and queues best bid/offer
// changes for broadcast.
//
// It is decoupled from concrete transports; feeds implement Source.
package service
