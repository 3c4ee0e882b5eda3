/******************************************************************************
*
*  Copyright 2018 SAP SE
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
	"os"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/logg"
)

// UpstreamType enumerates the credential flavors that the broker supports.
type UpstreamType string

// Possible values for UpstreamType.
const (
	UpstreamBasic  UpstreamType = "basic"
	UpstreamOAuth  UpstreamType = "oauth"
	UpstreamAwsECR UpstreamType = "aws_ecr"
)

// UpstreamConfig bundles the `upstream.*` configuration keys.
type UpstreamConfig struct {
	Type                  UpstreamType
	URL                   string
	Project               string
	MaxCatalogEntries     int
	TokenURL              string
	TokenService          string
	TokenUsername         string
	TokenPassword         string
	CatalogScope          string
	RepositoryScopeAction []string
	Region                string
	BasicUsername         string
	BasicPassword         string
}

// AuthConfig bundles the `auth.*` configuration keys for the identity service.
type AuthConfig struct {
	URL   string
	Token string
}

// Configuration contains all configuration values for the gateway.
type Configuration struct {
	ClusterName string
	Upstream    UpstreamConfig
	Auth        AuthConfig
	ServerPort  string
	CORSOrigins []string
}

// ParseConfiguration obtains a Configuration instance from the corresponding
// REGISTRY_GATEWAY_* environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	cfg := Configuration{
		ClusterName: MustGetenv("REGISTRY_GATEWAY_CLUSTER_NAME"),
		Upstream: UpstreamConfig{
			Type:                  UpstreamType(MustGetenv("REGISTRY_GATEWAY_UPSTREAM_TYPE")),
			URL:                   MustGetenv("REGISTRY_GATEWAY_UPSTREAM_URL"),
			Project:               os.Getenv("REGISTRY_GATEWAY_UPSTREAM_PROJECT"),
			MaxCatalogEntries:     mustGetenvIntOrDefault("REGISTRY_GATEWAY_UPSTREAM_MAX_CATALOG_ENTRIES", 1000),
			TokenURL:              os.Getenv("REGISTRY_GATEWAY_UPSTREAM_TOKEN_URL"),
			TokenService:          os.Getenv("REGISTRY_GATEWAY_UPSTREAM_SERVICE"),
			TokenUsername:         os.Getenv("REGISTRY_GATEWAY_UPSTREAM_USERNAME"),
			TokenPassword:         os.Getenv("REGISTRY_GATEWAY_UPSTREAM_PASSWORD"),
			CatalogScope:          GetenvOrDefault("REGISTRY_GATEWAY_UPSTREAM_CATALOG_SCOPE", "registry:catalog:*"),
			RepositoryScopeAction: splitAndTrim(GetenvOrDefault("REGISTRY_GATEWAY_UPSTREAM_REPOSITORY_SCOPE_ACTIONS", "")),
			Region:                os.Getenv("REGISTRY_GATEWAY_UPSTREAM_REGION"),
			BasicUsername:         os.Getenv("REGISTRY_GATEWAY_UPSTREAM_BASIC_USERNAME"),
			BasicPassword:         os.Getenv("REGISTRY_GATEWAY_UPSTREAM_BASIC_PASSWORD"),
		},
		Auth: AuthConfig{
			URL:   MustGetenv("REGISTRY_GATEWAY_AUTH_URL"),
			Token: MustGetenv("REGISTRY_GATEWAY_AUTH_TOKEN"),
		},
		ServerPort:  GetenvOrDefault("REGISTRY_GATEWAY_SERVER_PORT", "8080"),
		CORSOrigins: splitAndTrim(os.Getenv("REGISTRY_GATEWAY_CORS_ORIGINS")),
	}

	switch cfg.Upstream.Type {
	case UpstreamBasic, UpstreamOAuth, UpstreamAwsECR:
		// ok
	default:
		logg.Fatal("invalid REGISTRY_GATEWAY_UPSTREAM_TYPE: %q (must be one of: basic, oauth, aws_ecr)", cfg.Upstream.Type)
	}

	return cfg
}

func splitAndTrim(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// ParseBool is like strconv.ParseBool() but doesn't return any error.
func ParseBool(str string) bool {
	v, _ := strconv.ParseBool(str)
	return v
}

// MustGetenv is like os.Getenv, but aborts with an error message if the given
// environment variable is missing or empty.
func MustGetenv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		logg.Fatal("missing environment variable: %s", key)
	}
	return val
}

// GetenvOrDefault is like os.Getenv but it also takes a default value which is
// returned if the given environment variable is missing or empty.
func GetenvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	return val
}

func mustGetenvIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		logg.Fatal("invalid value for %s: %q", key, val)
	}
	return n
}
