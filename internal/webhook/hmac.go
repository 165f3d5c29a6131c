/*
Copyright 2026.

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

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const signaturePrefix = "sha256="

// ValidateHMAC verifies a GitHub x-hub-signature-256 header value against
// the raw push-event body. The header must be "sha256=<hex HMAC-SHA256>";
// comparison uses hmac.Equal to avoid a timing oracle on the signature.
func ValidateHMAC(payload []byte, signatureHeader, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook HMAC secret is not configured")
	}
	digest, ok := strings.CutPrefix(signatureHeader, signaturePrefix)
	if !ok {
		return fmt.Errorf("x-hub-signature-256 header missing the %q prefix", signaturePrefix)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return fmt.Errorf("x-hub-signature-256 does not match the computed digest")
	}
	return nil
}
