// Package protocol encodes BLELKDOM strip commands into the fixed 9-byte
// frames accepted by the strip's write characteristic.
//
// Every frame has the shape:
//
//	[0x7e, HDR, LEN, CMD, A, B, C, PAD, 0xef]
package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame delimiters and length.
const (
	FrameStart = 0x7e
	FrameEnd   = 0xef
	FrameSize  = 9
)

// Brightness bounds accepted by the strip.
const (
	MinBrightness = 0
	MaxBrightness = 100
)

// Frame is one encoded command.
type Frame [FrameSize]byte

// Bytes returns the frame as a slice suitable for a characteristic write.
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	copy(b, f[:])
	return b
}

// String renders the frame as space separated hex, e.g. "7e 00 04 01 00 00 00 00 ef".
func (f Frame) String() string {
	parts := make([]string, FrameSize)
	for i, b := range f {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

func frame(hdr, length, cmd, a, b, c, pad byte) Frame {
	return Frame{FrameStart, hdr, length, cmd, a, b, c, pad, FrameEnd}
}

// PowerOn returns the frame that switches the strip on.
func PowerOn() Frame {
	return frame(0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00)
}

// PowerOff returns the frame that switches the strip off.
func PowerOff() Frame {
	return frame(0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00)
}

// Power returns PowerOn or PowerOff.
func Power(on bool) Frame {
	if on {
		return PowerOn()
	}
	return PowerOff()
}

// Brightness returns the frame that sets the brightness level.
// The level is clamped to [0, 100].
func Brightness(level int) Frame {
	return frame(0x00, 0x01, byte(ClampBrightness(level)), 0x00, 0x00, 0x00, 0x00)
}

// Color returns the frame that sets a static RGB color.
func Color(r, g, b uint8) Frame {
	return frame(0x07, 0x05, 0x03, r, g, b, 0x10)
}

// ClampBrightness limits level to [MinBrightness, MaxBrightness].
func ClampBrightness(level int) int {
	return min(MaxBrightness, max(MinBrightness, level))
}

// ParseHexColor parses a "#RRGGBB" (or "RRGGBB") string into its components.
func ParseHexColor(s string) (r, g, b uint8, err error) {
	clean := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(clean) != 6 {
		return 0, 0, 0, fmt.Errorf("protocol: color %q must have 6 hex digits", s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("protocol: color %q: %w", s, err)
	}
	return raw[0], raw[1], raw[2], nil
}

// NormalizeHexColor returns s in canonical lowercase "#rrggbb" form.
func NormalizeHexColor(s string) (string, error) {
	r, g, b, err := ParseHexColor(s)
	if err != nil {
		return "", err
	}
	return FormatHexColor(r, g, b), nil
}

// FormatHexColor renders the components as "#rrggbb".
func FormatHexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// ColorHex encodes a "#RRGGBB" string directly.
func ColorHex(s string) (Frame, error) {
	r, g, b, err := ParseHexColor(s)
	if err != nil {
		return Frame{}, err
	}
	return Color(r, g, b), nil
}
