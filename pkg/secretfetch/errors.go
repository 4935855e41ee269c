// SPDX-License-Identifier: BSD-3-Clause

package secretfetch

import "errors"

var (
	// ErrMalformedReference indicates the secret-reference JSON body could
	// not be parsed or did not contain a usable reference id.
	ErrMalformedReference = errors.New("malformed secret reference response")
	// ErrUnexpectedStatus indicates the secret store returned a status code
	// other than 200 or 404.
	ErrUnexpectedStatus = errors.New("unexpected secret store status")
)
