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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// RegistryV2ErrorCode is the closed set of error codes that can appear in a
// RegistryV2Error, as used by the Docker Registry v2 error envelope.
type RegistryV2ErrorCode string

// Possible values for RegistryV2ErrorCode.
const (
	ErrBlobUnknown         RegistryV2ErrorCode = "BLOB_UNKNOWN"
	ErrDigestInvalid       RegistryV2ErrorCode = "DIGEST_INVALID"
	ErrManifestBlobUnknown RegistryV2ErrorCode = "MANIFEST_BLOB_UNKNOWN"
	ErrManifestInvalid     RegistryV2ErrorCode = "MANIFEST_INVALID"
	ErrManifestUnknown     RegistryV2ErrorCode = "MANIFEST_UNKNOWN"
	ErrNameInvalid         RegistryV2ErrorCode = "NAME_INVALID"
	ErrNameUnknown         RegistryV2ErrorCode = "NAME_UNKNOWN"
	ErrSizeInvalid         RegistryV2ErrorCode = "SIZE_INVALID"
	ErrUnauthorized        RegistryV2ErrorCode = "UNAUTHORIZED"
	ErrDenied              RegistryV2ErrorCode = "DENIED"
	ErrUnsupported         RegistryV2ErrorCode = "UNSUPPORTED"
	ErrUnknown             RegistryV2ErrorCode = "UNKNOWN"
)

var apiErrorMessages = map[RegistryV2ErrorCode]string{
	ErrBlobUnknown:         "blob unknown to registry",
	ErrDigestInvalid:       "provided digest did not match uploaded content",
	ErrManifestBlobUnknown: "manifest blob unknown to registry",
	ErrManifestInvalid:     "manifest invalid",
	ErrManifestUnknown:     "manifest unknown",
	ErrNameInvalid:         "invalid repository name",
	ErrNameUnknown:         "repository name not known to registry",
	ErrSizeInvalid:         "provided length did not match content length",
	ErrUnauthorized:        "authentication required",
	ErrDenied:              "requested access to the resource is denied",
	ErrUnsupported:         "the server does not support the requested operation",
	ErrUnknown:             "unknown error",
}

var apiErrorStatusCodes = map[RegistryV2ErrorCode]int{
	ErrBlobUnknown:         http.StatusNotFound,
	ErrDigestInvalid:       http.StatusUnprocessableEntity,
	ErrManifestBlobUnknown: http.StatusNotFound,
	ErrManifestInvalid:     http.StatusUnprocessableEntity,
	ErrManifestUnknown:     http.StatusNotFound,
	ErrNameInvalid:         http.StatusBadRequest,
	ErrNameUnknown:         http.StatusNotFound,
	ErrSizeInvalid:         http.StatusUnprocessableEntity,
	ErrUnauthorized:        http.StatusUnauthorized,
	ErrDenied:              http.StatusForbidden,
	ErrUnsupported:         http.StatusBadRequest,
	ErrUnknown:             http.StatusInternalServerError,
}

// RegistryV2Error is the error type expected by clients of the Docker
// Registry v2 API. A *RegistryV2Error is itself a valid http.Handler-facing
// error: its status code defaults from its Code, but can be overridden with
// WithStatus, and extra response headers (e.g. WWW-Authenticate) can be
// attached with WithHeader.
type RegistryV2Error struct {
	Code    RegistryV2ErrorCode
	Inner   error // optional
	status  int   // 0 means "use apiErrorStatusCodes[Code]"
	headers http.Header
}

// With is a convenience function for constructing a RegistryV2Error.
func (c RegistryV2ErrorCode) With(msg string, args ...interface{}) *RegistryV2Error {
	var err error
	if msg != "" {
		if len(args) > 0 {
			err = fmt.Errorf(msg, args...)
		} else {
			err = errors.New(msg)
		}
	}
	return &RegistryV2Error{Code: c, Inner: err}
}

// AsRegistryV2Error wraps an arbitrary error as an internal RegistryV2Error
// with code UNKNOWN, for errors that did not originate from a Registry v2
// operation (e.g. an identity-service transport failure).
func AsRegistryV2Error(err error) *RegistryV2Error {
	if err == nil {
		return nil
	}
	var rv2err *RegistryV2Error
	if errors.As(err, &rv2err) {
		return rv2err
	}
	return &RegistryV2Error{Code: ErrUnknown, Inner: err}
}

// WithStatus overrides the HTTP status code that this error is reported with.
func (e *RegistryV2Error) WithStatus(status int) *RegistryV2Error {
	e.status = status
	return e
}

// WithHeader attaches an additional response header to be written alongside
// this error, e.g. `WithHeader("WWW-Authenticate", challenge)`.
func (e *RegistryV2Error) WithHeader(key, value string) *RegistryV2Error {
	if e.headers == nil {
		e.headers = make(http.Header)
	}
	e.headers.Set(key, value)
	return e
}

func (e *RegistryV2Error) httpStatus() int {
	if e.status != 0 {
		return e.status
	}
	return apiErrorStatusCodes[e.Code]
}

// MarshalJSON implements the json.Marshaler interface.
func (e *RegistryV2Error) MarshalJSON() ([]byte, error) {
	data := struct {
		Code    string  `json:"code"`
		Message string  `json:"message"`
		Detail  *string `json:"detail,omitempty"`
	}{
		Code:    string(e.Code),
		Message: apiErrorMessages[e.Code],
	}
	if e.Inner != nil {
		detail := e.Inner.Error()
		data.Detail = &detail
	}
	return json.Marshal(data)
}

// WriteAsRegistryV2ResponseTo reports this error in the JSON envelope used by
// the Registry v2 API: `{"errors":[{"code":...,"message":...}]}`.
func (e *RegistryV2Error) WriteAsRegistryV2ResponseTo(w http.ResponseWriter) {
	for k, vs := range e.headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.httpStatus())
	buf, _ := json.Marshal(struct {
		Errors []*RegistryV2Error `json:"errors"`
	}{
		Errors: []*RegistryV2Error{e},
	})
	w.Write(append(buf, '\n')) //nolint:errcheck
}

// WriteAsTextTo reports this error in a plain text format (used for
// unexpected internal errors where the Registry v2 envelope would be
// misleading).
func (e *RegistryV2Error) WriteAsTextTo(w http.ResponseWriter) {
	for k, vs := range e.headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.httpStatus())
	w.Write([]byte(e.Error())) //nolint:errcheck
}

// Error implements the builtin error interface.
func (e *RegistryV2Error) Error() string {
	text := apiErrorMessages[e.Code]
	if e.Inner != nil {
		text += ": " + e.Inner.Error()
	}
	return text
}
