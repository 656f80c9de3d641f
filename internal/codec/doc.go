// Package codec provides the CBOR encoding used on the driver/agent channel.
//
// Frames are written as a stream of self-delimiting CBOR items, so no
// length prefix is needed: a Decoder reads exactly one item per Decode call.
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), which keeps the
// bytes for a given frame identical across runs.
package codec
