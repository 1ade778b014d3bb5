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

package tmgr

import (
	"context"
	"encoding/json"

	"github.com/netflowlabs/ipfixcollector"
)

// cacheAdapter satisfies ipfix.TemplateCache on top of one Manager's
// namespace, so wire decoding (TemplateRecord.Decode/DataSet.Decode, which
// are only ever exercised through a FieldCache/TemplateCache pair) can run
// directly against this package's namespaced state instead of the
// teacher's flat EphemeralCache/DecayingEphemeralCache.
type cacheAdapter struct {
	m *Manager
}

var _ ipfix.TemplateCache = &cacheAdapter{}

// AsTemplateCache exposes m as an ipfix.TemplateCache, for binding to a
// TemplateSet/OptionsTemplateSet/DataSet before decoding its wire bytes.
func (m *Manager) AsTemplateCache() ipfix.TemplateCache {
	return &cacheAdapter{m: m}
}

// AsFieldCache wraps m's TemplateCache view in the teacher's
// EphemeralFieldCache, which is itself namespace-agnostic: it only needs a
// TemplateCache to hand to fields it constructs for SubTemplateList/
// SubTemplateMultiList resolution.
func (m *Manager) AsFieldCache() ipfix.FieldCache {
	return ipfix.NewEphemeralFieldCache(m.AsTemplateCache())
}

func (c *cacheAdapter) GetAll(ctx context.Context) map[ipfix.TemplateKey]*ipfix.Template {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	out := make(map[ipfix.TemplateKey]*ipfix.Template, len(c.m.templates))
	for id, e := range c.m.templates {
		out[ipfix.NewKey(c.m.namespace.ODID, id)] = e.template
	}
	return out
}

func (c *cacheAdapter) Get(ctx context.Context, key ipfix.TemplateKey) (*ipfix.Template, error) {
	t, ok := c.m.Get(key.TemplateId)
	if !ok {
		return nil, ipfix.TemplateNotFound(key.ObservationDomainId, key.TemplateId)
	}
	return t, nil
}

func (c *cacheAdapter) Add(ctx context.Context, key ipfix.TemplateKey, template *ipfix.Template) error {
	return c.m.Add(template)
}

func (c *cacheAdapter) Delete(ctx context.Context, key ipfix.TemplateKey) error {
	return c.m.Withdraw(key.TemplateId)
}

func (c *cacheAdapter) Name() string {
	return c.m.namespace.String()
}

func (c *cacheAdapter) Type() string {
	return "tmgr.Manager"
}

func (c *cacheAdapter) MarshalJSON() ([]byte, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	out := make(map[uint16]*ipfix.Template, len(c.m.templates))
	for id, e := range c.m.templates {
		out[id] = e.template
	}
	return json.Marshal(out)
}
