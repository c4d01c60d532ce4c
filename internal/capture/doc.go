// Package capture implements the real-time capture mixing engine.
//
// A Capturer owns a client-supplied payload buffer and fills regions of it
// by mixing one or more linked audio sources, resampling each source from
// its own clock domain into the capture timeline. Completed regions are
// delivered back to the client on a dedicated control context so the mix
// path never blocks.
//
// Two execution contexts cooperate: the control context handles client
// requests (attach buffer, enqueue, flush, start/stop async, gain), and the
// mix context runs the mixing loop, woken by an explicit signal or an armed
// deadline timer. Queue access from both contexts is serialized by one
// short-held lock; no mixing work happens while it is held.
//
// Key collaborators are expressed as interfaces: Clock (monotonic time),
// Mixer (per-link resampler), Source (ring-buffer backed audio producer)
// and Client (packet and end-of-stream notifications).
package capture
