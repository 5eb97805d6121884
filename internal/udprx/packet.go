// Package udprx receives the sensor's UDP stream: fragmented image scan
// lines that are reassembled and published to the image buffers, and IMU
// packets whose filtered accelerometer X axis drives auto-volume.
package udprx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire packet types.
const (
	TypeImageData byte = 0x12
	TypeIMUData   byte = 0x13
)

const imageHeaderSize = 1 + 4*4

// Codec errors.
var (
	ErrShortPacket  = errors.New("udprx: short packet")
	ErrUnknownType  = errors.New("udprx: unknown packet type")
	ErrBadFragment  = errors.New("udprx: inconsistent fragment header")
)

// ImagePacket is one fragment of a scan line. R, G and B each hold
// FragmentSize bytes.
type ImagePacket struct {
	LineID         uint32
	FragmentID     uint32
	TotalFragments uint32
	FragmentSize   uint32
	R, G, B        []byte
}

// IMUPacket carries raw motion data. Only AccX is consumed by the engine.
type IMUPacket struct {
	Acc            [3]float32
	Gyro           [3]float32
	IntegratedAcc  [3]float32
	IntegratedGyro [3]float32
}

// EncodeImagePacket serialises p in wire order (little endian).
func EncodeImagePacket(p *ImagePacket) []byte {
	size := int(p.FragmentSize)
	out := make([]byte, imageHeaderSize+3*size)
	out[0] = TypeImageData
	binary.LittleEndian.PutUint32(out[1:], p.LineID)
	binary.LittleEndian.PutUint32(out[5:], p.FragmentID)
	binary.LittleEndian.PutUint32(out[9:], p.TotalFragments)
	binary.LittleEndian.PutUint32(out[13:], p.FragmentSize)
	copy(out[imageHeaderSize:], p.R[:size])
	copy(out[imageHeaderSize+size:], p.G[:size])
	copy(out[imageHeaderSize+2*size:], p.B[:size])
	return out
}

// DecodeImagePacket parses a TypeImageData frame. The returned plane slices
// alias buf.
func DecodeImagePacket(buf []byte) (*ImagePacket, error) {
	if len(buf) < imageHeaderSize {
		return nil, ErrShortPacket
	}
	if buf[0] != TypeImageData {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, buf[0])
	}
	p := &ImagePacket{
		LineID:         binary.LittleEndian.Uint32(buf[1:]),
		FragmentID:     binary.LittleEndian.Uint32(buf[5:]),
		TotalFragments: binary.LittleEndian.Uint32(buf[9:]),
		FragmentSize:   binary.LittleEndian.Uint32(buf[13:]),
	}
	size := int(p.FragmentSize)
	if p.TotalFragments == 0 || p.FragmentID >= p.TotalFragments {
		return nil, ErrBadFragment
	}
	if len(buf) < imageHeaderSize+3*size {
		return nil, ErrShortPacket
	}
	payload := buf[imageHeaderSize:]
	p.R = payload[:size]
	p.G = payload[size : 2*size]
	p.B = payload[2*size : 3*size]
	return p, nil
}

// EncodeIMUPacket serialises p in wire order.
func EncodeIMUPacket(p *IMUPacket) []byte {
	out := make([]byte, 1+12*4)
	out[0] = TypeIMUData
	off := 1
	for _, group := range [][3]float32{p.Acc, p.Gyro, p.IntegratedAcc, p.IntegratedGyro} {
		for _, v := range group {
			binary.LittleEndian.PutUint32(out[off:], floatBits(v))
			off += 4
		}
	}
	return out
}

// DecodeIMUPacket parses a TypeIMUData frame.
func DecodeIMUPacket(buf []byte) (*IMUPacket, error) {
	if len(buf) < 1+12*4 {
		return nil, ErrShortPacket
	}
	if buf[0] != TypeIMUData {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, buf[0])
	}
	p := &IMUPacket{}
	off := 1
	groups := []*[3]float32{&p.Acc, &p.Gyro, &p.IntegratedAcc, &p.IntegratedGyro}
	for _, group := range groups {
		for i := range group {
			group[i] = bitsFloat(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	return p, nil
}
