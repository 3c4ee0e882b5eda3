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

package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"

	"github.com/sapcc/registry-gateway/internal/challenge"
)

// ecrCacheKey is the single fixed cache key that AwsECRAcquirer's credential
// is stored under in the Broker: an ECR authorization token is valid for the
// whole registry, not scoped per-repository, so there is exactly one entry
// regardless of which scopes were requested.
const ecrCacheKey = "ecr"

// ecrClient is the subset of *ecr.Client this package depends on, so that
// tests can substitute a fake without talking to AWS.
type ecrClient interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// AwsECRAcquirer implements Acquirer for AWS Elastic Container Registry
// upstreams: it exchanges AWS credentials (resolved the standard SDK way —
// environment, shared config, or instance role) for an ECR authorization
// token, which is a base64-encoded "user:pass" pair presented to the
// upstream as HTTP Basic.
type AwsECRAcquirer struct {
	Region string

	client ecrClient
}

// NewAwsECRAcquirer constructs an AwsECRAcquirer, loading AWS credentials via
// the default SDK credential chain for the given region.
func NewAwsECRAcquirer(ctx context.Context, region string) (*AwsECRAcquirer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("while loading AWS configuration: %w", err)
	}
	return &AwsECRAcquirer{Region: region, client: ecr.NewFromConfig(cfg)}, nil
}

// CacheKey implements the Acquirer interface. ECR hands out one
// registry-wide token regardless of which repository scopes were requested,
// so every call shares the same cache entry.
func (a *AwsECRAcquirer) CacheKey(_ challenge.ScopeSet) string {
	return ecrCacheKey
}

// Acquire implements the Acquirer interface. The scope set is unused: ECR
// hands out one registry-wide token regardless of which repository scopes
// were requested by the client.
func (a *AwsECRAcquirer) Acquire(ctx context.Context, _ challenge.ScopeSet) (Credential, error) {
	out, err := a.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credential{}, fmt.Errorf("while calling ecr:GetAuthorizationToken: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credential{}, fmt.Errorf("ecr:GetAuthorizationToken returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credential{}, fmt.Errorf("while decoding ECR authorization token: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credential{}, fmt.Errorf("malformed ECR authorization token")
	}

	expiresAt := time.Now().Add(time.Hour)
	if data.ExpiresAt != nil {
		expiresAt = *data.ExpiresAt
	}

	return Credential{
		Kind:      KindToken,
		User:      user,
		Pass:      pass,
		AsBearer:  false,
		ExpiresAt: expiresAt,
	}, nil
}
