/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/sre"
)

// BrokerAcquisitionsCounter counts upstream credential acquisitions by
// outcome ("hit" for a cache hit, "miss" for a fresh acquisition, "error"
// for a failed acquisition).
var BrokerAcquisitionsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_gateway_broker_acquisitions",
		Help: "Counts upstream credential acquisitions by outcome.",
	},
	[]string{"outcome"},
)

// UpstreamRetriesCounter counts requests that required the one-retry-on-401
// cycle described in the proxy handler's error handling design.
var UpstreamRetriesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_gateway_upstream_retries",
		Help: "Counts requests that were retried once after an upstream 401.",
	},
	[]string{"result"},
)

// taken from the same statsd-exporter bucket boundaries used for the ambient
// HTTP instrumentation throughout this stack.
var (
	httpDurationBuckets = []float64{0.025, 0.1, 0.25, 1, 2.5}
	httpBodySizeBuckets = []float64{1024, 8192, 1000000, 10000000}
)

func init() {
	prometheus.MustRegister(BrokerAcquisitionsCounter)
	prometheus.MustRegister(UpstreamRetriesCounter)

	sre.Init(sre.Config{
		AppName:                  "registry-gateway",
		FirstByteDurationBuckets: httpDurationBuckets,
		ResponseDurationBuckets:  httpDurationBuckets,
		RequestBodySizeBuckets:   httpBodySizeBuckets,
		ResponseBodySizeBuckets:  httpBodySizeBuckets,
	})
}
