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

// Package challenge parses inbound WWW-Authenticate: Bearer challenges (as
// sent by the upstream registry) into structured scope descriptors, and
// renders outbound challenges in the same grammar for clients of this proxy.
package challenge

import (
	"fmt"
	"strings"
)

// Scope is a Registry v2 authorization descriptor of the form
// "<type>:<name>:<actions>", e.g. "repository:alice/alpine:pull,push".
type Scope struct {
	ResourceType string
	ResourceName string
	Actions      []string
}

// ParseScope parses a single scope string as found in a "scope" query
// parameter or within a space-separated scope list in a challenge header.
func ParseScope(s string) (Scope, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("malformed scope: %q", s)
	}
	var actions []string
	if parts[2] != "" {
		actions = strings.Split(parts[2], ",")
	}
	return Scope{
		ResourceType: parts[0],
		ResourceName: parts[1],
		Actions:      actions,
	}, nil
}

// String serializes this scope into the format used by the Docker auth API.
func (s Scope) String() string {
	return strings.Join([]string{s.ResourceType, s.ResourceName, strings.Join(s.Actions, ",")}, ":")
}

// Contains returns true if this scope is for the same resource as `other`
// and contains every action that `other` contains.
func (s Scope) Contains(other Scope) bool {
	if s.ResourceType != other.ResourceType || s.ResourceName != other.ResourceName {
		return false
	}
	have := make(map[string]bool, len(s.Actions))
	for _, a := range s.Actions {
		have[a] = true
	}
	for _, a := range other.Actions {
		if !have[a] {
			return false
		}
	}
	return true
}

// ScopeSet is an ordered, deduplicated collection of scopes. Its canonical
// string form is used as the broker's cache key, so equal scope sets (in any
// construction order) must render identically.
type ScopeSet []Scope

// Add inserts a scope into the set, merging actions into an existing entry
// for the same resource if one is already present.
func (ss *ScopeSet) Add(s Scope) {
	for i, existing := range *ss {
		if existing.ResourceType == s.ResourceType && existing.ResourceName == s.ResourceName {
			(*ss)[i].Actions = mergeActions(existing.Actions, s.Actions)
			return
		}
	}
	*ss = append(*ss, s)
}

func mergeActions(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, act := range list {
			if !seen[act] {
				seen[act] = true
				result = append(result, act)
			}
		}
	}
	return result
}

// Key renders the canonical, order-independent cache key for this scope set:
// each scope's String() form, sorted, joined by spaces. Two ScopeSets built
// from the same scopes in different orders produce the same Key.
func (ss ScopeSet) Key() string {
	strs := make([]string, len(ss))
	for i, s := range ss {
		strs[i] = s.String()
	}
	sortStrings(strs)
	return strings.Join(strs, " ")
}

func sortStrings(s []string) {
	// simple insertion sort: scope sets are tiny (almost always 1-2 entries)
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
