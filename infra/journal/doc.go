// Package journal stores and replays book event streams as segmented,
// append-only files. Each frame is
//
//	[kind:1][seq:8][time:8][len:4][payload][crc:4]
//
// big-endian, where payload is the codec.Binary encoding of the event and
// the CRC32 covers header and payload. Segments are named
// segment-NNNNNN.jnl and replayed in name order with strictly increasing
// sequence numbers.
package journal
