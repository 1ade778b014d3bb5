/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package input

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// framer reassembles a stream of IPFIX messages out of a TCP connection's
// byte stream. A message's own length field (the 2-byte Length at offset 2
// of the IPFIX Message Header; NetFlow v5/v9 carry a record count there
// instead, so they are not framed correctly by it) is the only framing a TCP exporter gives us, so framer reads the fixed 16-byte
// header first to learn how much body follows, then reads exactly that
// much before handing the whole message to messageCh and resetting for the
// next one.
type framer struct {
	offset uint16
	length uint16

	messageCh chan []byte
	message   bytes.Buffer

	reader io.Reader
}

func newFramer(r io.Reader) *framer {
	return &framer{
		messageCh: make(chan []byte),
		reader:    r,
	}
}

func (f *framer) messages() <-chan []byte {
	return f.messageCh
}

// receive advances the framer by one Read off the underlying connection.
// It returns nil as long as a message is still being assembled; once a
// full message has been read it is pushed onto messageCh and receive
// resets the framer's offset/length for the next one.
func (f *framer) receive() error {
	if f.offset < ipfixMessageHeaderLength {
		if _, err := f.receiveHeader(); err != nil {
			return err
		}
		if f.offset < ipfixMessageHeaderLength {
			return nil
		}
	}

	if _, err := f.receiveBody(); err != nil {
		return err
	}
	if f.offset < f.length {
		return nil
	}

	f.messageCh <- f.message.Bytes()
	f.length = 0
	f.offset = 0
	f.message.Reset()
	return nil
}

func (f *framer) receiveHeader() (int, error) {
	var remains uint16 = ipfixMessageHeaderLength
	headerBuffer := &bytes.Buffer{}
	if f.offset > 0 {
		remains = ipfixMessageHeaderLength - f.offset
		if _, err := headerBuffer.ReadFrom(&f.message); err != nil {
			return -1, fmt.Errorf("reading partial header back out of message buffer: %w", err)
		}
	}

	b := make([]byte, remains)
	n, err := f.reader.Read(b)
	if n == 0 {
		if errors.Is(err, io.EOF) {
			return n, err
		}
		return n, fmt.Errorf("reading header from connection: %w", err)
	}
	if _, err := headerBuffer.Write(b[:n]); err != nil {
		return n, fmt.Errorf("writing into header buffer: %w", err)
	}

	offset := f.offset + uint16(n)
	if offset < ipfixMessageHeaderLength {
		f.message.Reset()
		if _, err := f.message.ReadFrom(headerBuffer); err != nil {
			return -1, fmt.Errorf("writing partial header into message buffer: %w", err)
		}
		f.offset = offset
		f.length = offset
		return n, nil
	}

	hb := headerBuffer.Bytes()
	msgLength := binary.BigEndian.Uint16(hb[2:4])

	f.message.Reset()
	if _, err := f.message.Write(hb); err != nil {
		return n, fmt.Errorf("writing full header into message buffer: %w", err)
	}
	f.offset = ipfixMessageHeaderLength
	f.length = msgLength
	return n, nil
}

func (f *framer) receiveBody() (int, error) {
	remains := f.length - f.offset
	if remains == 0 {
		return 0, nil
	}

	b := make([]byte, remains)
	n, err := f.reader.Read(b)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, err
		}
		return n, fmt.Errorf("connection closed mid-message: %w", err)
	}
	if _, err := f.message.Write(b[:n]); err != nil {
		return n, fmt.Errorf("writing body into message buffer: %w", err)
	}
	f.offset += uint16(n)
	return n, nil
}
