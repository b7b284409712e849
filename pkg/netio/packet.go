// Package netio defines the narrow boundary between the network thread and
// the pipeline, and a minimal depacketizer that turns raw RTP packets into
// frames. FEC, jitter-buffer reordering, and SDP/RTCP signalling are
// deliberately out of scope; this package only resolves packets down to
// the FrameReader contract the rest of rocpipe speaks.
package netio

import "net"

// Packet is what the network thread hands to a Depacketizer: an opaque
// payload plus the two facts the pipeline's jitter/latency accounting
// needs about it.
type Packet struct {
	Payload         []byte
	RecvTimestampNs int64
	Peer            net.Addr
}
