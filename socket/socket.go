// Package socket implements the control framing used on the stream
// transport: every control message is a JSON document preceded by a 4-byte
// big-endian length. Bulk payloads are never framed; they follow a control
// message as a raw byte run whose size both sides already agreed on.
package socket

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

// MaxFrameSize caps a single control frame. Control messages are small JSON
// documents; anything larger means a corrupt or hostile peer.
const MaxFrameSize = 1 << 20

const lenPrefixSize = 4

// maxBulkSize caps one streamed bulk run. A single request may flatten up to
// MaxBuffers full-size buffers into one run.
const maxBulkSize = int64(models.MaxBuffers) * int64(models.MaxBufferSize)

// ReadFrame reads one length-prefixed JSON frame and returns the raw body.
func ReadFrame(ctx context.Context, reader *bufio.Reader) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(reader, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(errors.ErrTransport, err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameSize {
		return nil, errors.ErrMalformedMessage
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(errors.ErrTransport, err)
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame and flushes.
func WriteFrame(ctx context.Context, writer *bufio.Writer, body []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if len(body) == 0 || len(body) > MaxFrameSize {
		return errors.ErrMalformedMessage
	}

	var prefix [lenPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := writer.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := writer.Write(body); err != nil {
		return err
	}
	return writer.Flush()
}

// ReadRequest reads and decodes one control request.
func ReadRequest(ctx context.Context, reader *bufio.Reader) (*models.ControlRequest, error) {
	body, err := ReadFrame(ctx, reader)
	if err != nil {
		return nil, err
	}
	return models.UnmarshalControlRequest(body)
}

// ReadResponse reads and decodes one control response.
func ReadResponse(ctx context.Context, reader *bufio.Reader) (*models.ControlResponse, error) {
	body, err := ReadFrame(ctx, reader)
	if err != nil {
		return nil, err
	}
	return models.UnmarshalControlResponse(body)
}

// WriteRequest encodes and writes one control request frame.
func WriteRequest(ctx context.Context, writer *bufio.Writer, req *models.ControlRequest) error {
	body, err := models.MarshalControl(req)
	if err != nil {
		return err
	}
	return WriteFrame(ctx, writer, body)
}

// WriteResponse encodes and writes one control response frame.
func WriteResponse(ctx context.Context, writer *bufio.Writer, rsp *models.ControlResponse) error {
	body, err := models.MarshalControl(rsp)
	if err != nil {
		return err
	}
	return WriteFrame(ctx, writer, body)
}

// ReadBulk reads exactly size raw bytes that follow a control message
// announcing a streamed payload.
func ReadBulk(ctx context.Context, reader *bufio.Reader, size int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if size <= 0 || int64(size) > maxBulkSize {
		return nil, errors.ErrBufferTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, errors.Wrap(errors.ErrTransport, err)
	}
	return buf, nil
}

// WriteBulk writes a raw byte run and flushes. The receiver learns the size
// from the control message that precedes it.
func WriteBulk(ctx context.Context, writer *bufio.Writer, buf []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if int64(len(buf)) > maxBulkSize {
		return errors.ErrBufferTooLarge
	}
	if _, err := writer.Write(buf); err != nil {
		return err
	}
	return writer.Flush()
}
