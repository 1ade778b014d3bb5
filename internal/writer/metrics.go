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

package writer

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_messages_written_total",
		Help: "Total number of IPFIX messages written to the output file, including synthesized template-only messages.",
	})
	RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_records_dropped_total",
		Help: "Total number of Data Records dropped for referencing an unknown template with preserveOriginal=false.",
	})
	FilesRotated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_files_rotated_total",
		Help: "Total number of times the output file has been rotated.",
	})
	ODIDCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_odid_collisions_total",
		Help: "Total number of Observation Domain ID collisions, counted once per owned Observation Domain ID rather than per colliding session or message.",
	})
	TemplatesSkippedOversize = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_templates_skipped_oversize_total",
		Help: "Total number of templates too large to fit in a single synthesized Template Set message, skipped.",
	})
)
