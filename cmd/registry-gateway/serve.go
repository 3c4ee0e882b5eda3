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

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpee"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sre"
	"github.com/spf13/cobra"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/permission"
	"github.com/sapcc/registry-gateway/internal/proxy"
	"github.com/sapcc/registry-gateway/internal/upstream"
)

func runServe(cmd *cobra.Command, args []string) error {
	gateway.Component = "registry-gateway"
	logg.Info("starting registry-gateway %s", gateway.Version)

	cfg := gateway.ParseConfiguration()

	acquirer, err := newAcquirer(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("while setting up upstream credential acquirer: %w", err)
	}

	checker := &permission.HTTPChecker{BaseURL: cfg.Auth.URL, ServiceToken: cfg.Auth.Token}

	handler := &proxy.Handler{
		Cluster: cfg.ClusterName,
		Authorizer: &authz.Authorizer{
			Cluster:  cfg.ClusterName,
			Checker:  checker,
			Upstream: cfg.Upstream,
		},
		Broker:   upstream.NewBroker(acquirer),
		Upstream: cfg.Upstream,
	}

	router := mux.NewRouter()
	handler.AddTo(router)
	router.HandleFunc("/healthz", gateway.HealthCheckHandler)
	router.Handle("/metrics", promhttp.Handler())

	var httpHandler http.Handler = router
	httpHandler = sre.Instrument(httpHandler)
	httpHandler = gateway.RecoverPanics(httpHandler)
	httpHandler = logg.Middleware{}.Wrap(httpHandler)
	if len(cfg.CORSOrigins) > 0 {
		httpHandler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(httpHandler)
	}

	ctx := httpee.ContextWithSIGINT(context.Background())
	listenAddress := ":" + cfg.ServerPort
	logg.Info("listening on %s", listenAddress)
	return httpee.ListenAndServeContext(ctx, listenAddress, httpHandler)
}

func newAcquirer(cfg gateway.UpstreamConfig) (upstream.Acquirer, error) {
	switch cfg.Type {
	case gateway.UpstreamBasic:
		return upstream.BasicAcquirer{User: cfg.BasicUsername, Pass: cfg.BasicPassword}, nil
	case gateway.UpstreamOAuth:
		return upstream.OAuthAcquirer{
			TokenURL: cfg.TokenURL,
			Service:  cfg.TokenService,
			Username: cfg.TokenUsername,
			Password: cfg.TokenPassword,
		}, nil
	case gateway.UpstreamAwsECR:
		return upstream.NewAwsECRAcquirer(context.Background(), cfg.Region)
	default:
		return nil, fmt.Errorf("unsupported upstream type: %q", cfg.Type)
	}
}
