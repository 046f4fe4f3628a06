package meta

import "fmt"

// maxDataLen guards against absurd declared payload sizes. The server-side
// default item limit is 1MB; anything near this bound means a corrupted
// stream.
const maxDataLen = 1 << 30

type decodeState int

const (
	stateReturnCode decodeState = iota
	stateDataLength
	stateFlags
	stateValue
)

// Decoder is an incremental decoder for meta protocol responses.
//
// Bytes arrive through Feed in whatever chunks the transport delivers;
// Next assembles them into responses:
//
//	dec.Feed(chunk)
//	for {
//		resp, err := dec.Next()
//		if err == ErrIncomplete {
//			break // read more bytes
//		}
//		if err != nil {
//			// *ParseError: the stream is corrupted, close the connection
//		}
//		// handle resp
//	}
//
// Next never consumes bytes it cannot fully process: when it returns
// ErrIncomplete the next call resumes from the same state. Any other error
// is terminal for the decoder and the connection.
type Decoder struct {
	buf   Buffer
	state decodeState
	resp  Response
}

// NewDecoder returns a decoder ready to receive bytes.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk of inbound bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf.Append(p)
}

// Idle reports whether the decoder is between responses with no partial
// input buffered. EOF while not idle is an unexpected end of stream.
func (d *Decoder) Idle() bool {
	return d.state == stateReturnCode && d.buf.Len() == 0
}

// Next returns the next complete response, or ErrIncomplete when more
// bytes are needed.
func (d *Decoder) Next() (*Response, error) {
	for {
		switch d.state {
		case stateReturnCode:
			p, ok := d.buf.ReadSlice(2)
			if !ok {
				return nil, d.incomplete()
			}
			status, ok := validStatus(p[0], p[1])
			if !ok {
				return nil, &ParseError{Message: fmt.Sprintf("malformed return code %q", p)}
			}
			d.resp = Response{Status: status}
			d.state = stateDataLength

		case stateDataLength:
			if d.resp.Status != StatusVA {
				d.state = stateFlags
				continue
			}
			if ok, err := d.lineBuffered(); err != nil {
				return nil, err
			} else if !ok {
				return nil, d.incomplete()
			}
			if c, _ := d.buf.PeekByte(); c != ' ' {
				return nil, &ParseError{Message: "VA response missing size"}
			}
			d.buf.Advance(1)
			n, ok := d.buf.ReadUint()
			if !ok {
				return nil, &ParseError{Message: "invalid size in VA response"}
			}
			if n > maxDataLen {
				return nil, &ParseError{Message: fmt.Sprintf("data length %d exceeds limit", n)}
			}
			d.resp.DataLen = n
			d.state = stateFlags

		case stateFlags:
			if ok, err := d.lineBuffered(); err != nil {
				return nil, err
			} else if !ok {
				return nil, d.incomplete()
			}
			if err := decodeFlags(&d.buf, &d.resp.Flags); err != nil {
				return nil, err
			}
			if d.resp.Status == StatusVA {
				d.state = stateValue
				continue
			}
			return d.emit()

		case stateValue:
			need := int(d.resp.DataLen) + 2
			p, ok := d.buf.ReadSlice(need)
			if !ok {
				return nil, d.incomplete()
			}
			if p[need-2] != '\r' || p[need-1] != '\n' {
				return nil, &ParseError{Message: "invalid data block terminator"}
			}
			d.resp.Value = append([]byte{}, p[:need-2]...)
			return d.emit()
		}
	}
}

// lineBuffered reports whether a complete CRLF-terminated line starts at
// the reader position. It consumes nothing.
func (d *Decoder) lineBuffered() (bool, error) {
	b := d.buf.Bytes()
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\r':
			if i+1 >= len(b) {
				return false, nil
			}
			if b[i+1] != '\n' {
				return false, &ParseError{Message: "CR without LF in response line"}
			}
			return true, nil
		case '\n':
			return false, &ParseError{Message: "LF without CR in response line"}
		}
	}
	return false, nil
}

func (d *Decoder) incomplete() error {
	d.buf.Compact()
	return ErrIncomplete
}

func (d *Decoder) emit() (*Response, error) {
	resp := d.resp
	d.resp = Response{}
	d.state = stateReturnCode
	d.buf.Compact()
	return &resp, nil
}
