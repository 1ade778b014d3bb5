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

package pipelinecfg

import "testing"

func TestDefaultConfigRequiresAListener(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation to fail with no bind address configured")
	}
	c.UDPBindAddr = ":4739"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected a UDP-only config to validate, got %v", err)
	}
}

func TestWriterConfigRequiresFilename(t *testing.T) {
	w := DefaultWriterConfig()
	if err := w.Validate(); err == nil {
		t.Fatal("expected validation to fail without a filename")
	}
	w.Filename = "flows-%Y%m%d.ipfix"
	if err := w.Validate(); err != nil {
		t.Fatalf("expected a named writer config to validate, got %v", err)
	}
}

func TestWriterConfigRejectsNegativeWindow(t *testing.T) {
	w := DefaultWriterConfig()
	w.Filename = "flows.ipfix"
	w.WindowSize = -1
	if err := w.Validate(); err == nil {
		t.Fatal("expected a negative window size to be rejected")
	}
}
