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
	"testing"
)

func ipfixMessage(t *testing.T, bodyLen int) []byte {
	t.Helper()
	b := make([]byte, ipfixMessageHeaderLength+bodyLen)
	binary.BigEndian.PutUint16(b[0:2], 10)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	for i := range b[ipfixMessageHeaderLength:] {
		b[ipfixMessageHeaderLength+i] = byte(i)
	}
	return b
}

func TestFramerReassemblesWholeMessageFromOneRead(t *testing.T) {
	msg := ipfixMessage(t, 20)
	fr := newFramer(bytes.NewReader(msg))

	go func() {
		for {
			if err := fr.receive(); err != nil {
				return
			}
		}
	}()

	got := <-fr.messages()
	if !bytes.Equal(got, msg) {
		t.Fatalf("reassembled message did not match input: got %d bytes, want %d", len(got), len(msg))
	}
}

// trickleReader hands back only n bytes per Read call, forcing the framer
// through its partial-header and partial-body paths.
type trickleReader struct {
	buf []byte
	n   int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		return 0, errNoMoreData
	}
	n := r.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.buf) {
		n = len(r.buf)
	}
	copy(p, r.buf[:n])
	r.buf = r.buf[n:]
	return n, nil
}

var errNoMoreData = bytes.ErrTooLarge

func TestFramerReassemblesFromFragmentedReads(t *testing.T) {
	msg := ipfixMessage(t, 20)
	fr := newFramer(&trickleReader{buf: msg, n: 3})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := fr.receive(); err != nil {
				return
			}
		}
	}()

	got := <-fr.messages()
	if !bytes.Equal(got, msg) {
		t.Fatalf("reassembled message did not match input: got %d bytes, want %d", len(got), len(msg))
	}
}
