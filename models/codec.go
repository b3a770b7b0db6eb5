package models

import (
	"encoding/binary"

	"github.com/vmremote/winapi/errors"
)

// EncodeTo serializes the message into dst, which must be at least
// MessageSize bytes. It never allocates. Unused descriptor slots and inline
// tail bytes are zeroed so a message always occupies exactly one fixed unit.
func (m *Message) EncodeTo(dst []byte) error {
	if len(dst) < MessageSize {
		return errors.ErrInvalidParameters
	}
	if len(m.Buffers) > MaxBuffers || len(m.Inline) > MaxInlineData {
		return errors.ErrInvalidParameters
	}

	h := m.Header
	h.BufferCount = uint32(len(m.Buffers))
	h.InlineSize = uint32(len(m.Inline))

	binary.LittleEndian.PutUint32(dst[0:], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:], h.Version)
	binary.LittleEndian.PutUint32(dst[8:], uint32(h.Type))
	binary.LittleEndian.PutUint32(dst[12:], uint32(h.Api))
	binary.LittleEndian.PutUint64(dst[16:], h.RequestID)
	binary.LittleEndian.PutUint32(dst[24:], h.BufferCount)
	binary.LittleEndian.PutUint32(dst[28:], h.InlineSize)
	binary.LittleEndian.PutUint32(dst[32:], uint32(h.ErrorCode))
	binary.LittleEndian.PutUint32(dst[36:], h.Flags)
	binary.LittleEndian.PutUint64(dst[40:], h.Timestamp)
	for i := 48; i < HeaderSize; i++ {
		dst[i] = 0
	}

	off := HeaderSize
	for i := 0; i < MaxBuffers; i++ {
		if i < len(m.Buffers) {
			d := m.Buffers[i]
			binary.LittleEndian.PutUint64(dst[off:], d.Location)
			binary.LittleEndian.PutUint32(dst[off+8:], d.Size)
			binary.LittleEndian.PutUint32(dst[off+12:], d.Flags)
		} else {
			for j := 0; j < BufferDescSize; j++ {
				dst[off+j] = 0
			}
		}
		off += BufferDescSize
	}

	copy(dst[off:], m.Inline)
	for i := off + len(m.Inline); i < MessageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// Encode serializes the message into a fresh fixed-size buffer.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, MessageSize)
	if err := m.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses one fixed-size message. Magic and version are checked before
// any other field; size and count fields are checked before the descriptor
// and inline regions are touched.
func Decode(b []byte) (*Message, error) {
	if len(b) < MessageSize {
		return nil, errors.ErrMalformedMessage
	}
	magic := binary.LittleEndian.Uint32(b[0:])
	version := binary.LittleEndian.Uint32(b[4:])
	if magic != MessageMagic || version != ProtocolVersion {
		return nil, errors.ErrMalformedMessage
	}

	h := Header{
		Magic:       magic,
		Version:     version,
		Type:        MessageType(binary.LittleEndian.Uint32(b[8:])),
		Api:         ApiID(binary.LittleEndian.Uint32(b[12:])),
		RequestID:   binary.LittleEndian.Uint64(b[16:]),
		BufferCount: binary.LittleEndian.Uint32(b[24:]),
		InlineSize:  binary.LittleEndian.Uint32(b[28:]),
		ErrorCode:   int32(binary.LittleEndian.Uint32(b[32:])),
		Flags:       binary.LittleEndian.Uint32(b[36:]),
		Timestamp:   binary.LittleEndian.Uint64(b[40:]),
	}
	if h.BufferCount > MaxBuffers || h.InlineSize > MaxInlineData {
		return nil, errors.ErrMalformedMessage
	}

	msg := &Message{Header: h}
	off := HeaderSize
	if h.BufferCount > 0 {
		msg.Buffers = make([]BufferDesc, h.BufferCount)
		for i := range msg.Buffers {
			o := off + i*BufferDescSize
			msg.Buffers[i] = BufferDesc{
				Location: binary.LittleEndian.Uint64(b[o:]),
				Size:     binary.LittleEndian.Uint32(b[o+8:]),
				Flags:    binary.LittleEndian.Uint32(b[o+12:]),
			}
		}
	}
	off = HeaderSize + MaxBuffers*BufferDescSize
	if h.InlineSize > 0 {
		msg.Inline = make([]byte, h.InlineSize)
		copy(msg.Inline, b[off:off+int(h.InlineSize)])
	}
	return msg, nil
}
