// media.go: Media events delivered to sessions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// MediaEventType identifies the media callback that produced an event.
type MediaEventType int

const (
	MediaSetup MediaEventType = iota
	MediaRTP
	MediaRTCP
	MediaData
	MediaSlowLink
	MediaHangup
)

// String returns the metric label for the event type.
func (t MediaEventType) String() string {
	switch t {
	case MediaSetup:
		return "setup"
	case MediaRTP:
		return "rtp"
	case MediaRTCP:
		return "rtcp"
	case MediaData:
		return "data"
	case MediaSlowLink:
		return "slow_link"
	case MediaHangup:
		return "hangup"
	default:
		return "unknown"
	}
}

// MediaKind distinguishes audio and video streams.
type MediaKind int

const (
	MediaKindAudio MediaKind = iota
	MediaKindVideo
)

// String returns "audio" or "video".
func (k MediaKind) String() string {
	if k == MediaKindVideo {
		return "video"
	}
	return "audio"
}

// mediaKindFromFlag converts the host's is_video flag.
func mediaKindFromFlag(video bool) MediaKind {
	if video {
		return MediaKindVideo
	}
	return MediaKindAudio
}

// MediaEvent is one media callback for a session.
//
// Buffer is only valid for the duration of OnMediaEvent unless the bridge is
// configured with copy_media_buffers. RTPHeader and RTCPPackets are parsed
// views of Buffer; they are nil when parsing fails, in which case the raw
// buffer is still delivered.
type MediaEvent struct {
	Type   MediaEventType
	Kind   MediaKind
	Buffer []byte
	// Uplink is set for slow-link events on the plugin-to-host direction.
	Uplink bool

	RTPHeader   *rtp.Header
	RTCPPackets []rtcp.Packet
}

func newRTPEvent(kind MediaKind, buf []byte) MediaEvent {
	ev := MediaEvent{Type: MediaRTP, Kind: kind, Buffer: buf}
	header := &rtp.Header{}
	if _, err := header.Unmarshal(buf); err == nil {
		ev.RTPHeader = header
	}
	return ev
}

func newRTCPEvent(kind MediaKind, buf []byte) MediaEvent {
	ev := MediaEvent{Type: MediaRTCP, Kind: kind, Buffer: buf}
	if packets, err := rtcp.Unmarshal(buf); err == nil {
		ev.RTCPPackets = packets
	}
	return ev
}
