package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func mtlsRequest(issuer, subject, root string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerClientCert, "present")
	req.Header.Set(headerSslClient, sslClientPresent)
	req.Header.Set(headerSslVerify, sslVerifySuccessful)
	req.Header.Set(headerIssuerDN, b64(issuer))
	req.Header.Set(headerSubjectDN, b64(subject))
	req.Header.Set(headerRootCADN, b64(root))
	return req
}

func TestMTLSValidator_TrustedPairMatches(t *testing.T) {
	v := NewMTLSValidator(
		[]TrustedPair{{Issuer: "CN=Internal CA,O=Example", Subject: "CN=client,O=Example"}},
		[]string{"CN=Root CA,O=Example"},
	)
	req := mtlsRequest("CN=Internal CA,O=Example", "CN=client,O=Example", "CN=Root CA,O=Example")

	if err := v.Validate(req); err != nil {
		t.Fatalf("expected trusted pair to pass, got %v", err)
	}
}

func TestMTLSValidator_ReorderedAndDifferentCaseDNStillMatches(t *testing.T) {
	v := NewMTLSValidator(
		[]TrustedPair{{Issuer: "CN=Internal CA,O=Example", Subject: "CN=client,O=Example"}},
		[]string{"CN=Root CA,O=Example"},
	)
	// Same RDNs, different order and case — canonicalization should still match.
	req := mtlsRequest("o=EXAMPLE,cn=internal ca", "O=example,CN=CLIENT", "cn=root ca,o=example")

	if err := v.Validate(req); err != nil {
		t.Fatalf("expected reordered/differently-cased DN to still match, got %v", err)
	}
}

func TestMTLSValidator_UntrustedPairRejected(t *testing.T) {
	v := NewMTLSValidator(
		[]TrustedPair{{Issuer: "CN=Internal CA,O=Example", Subject: "CN=client,O=Example"}},
		[]string{"CN=Root CA,O=Example"},
	)
	req := mtlsRequest("CN=Other CA,O=Example", "CN=client,O=Example", "CN=Root CA,O=Example")

	if err := v.Validate(req); err == nil {
		t.Fatal("expected untrusted issuer to fail")
	}
}

func TestMTLSValidator_MissingProxyHeadersRejected(t *testing.T) {
	v := NewMTLSValidator(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if err := v.Validate(req); err == nil {
		t.Fatal("expected missing proxy headers to fail")
	}
}

func TestMTLSValidator_UnverifiedProxyRejected(t *testing.T) {
	v := NewMTLSValidator(
		[]TrustedPair{{Issuer: "CN=Internal CA", Subject: "CN=client"}},
		[]string{"CN=Root CA"},
	)
	req := mtlsRequest("CN=Internal CA", "CN=client", "CN=Root CA")
	req.Header.Set(headerSslVerify, "1") // not "0" — verification failed upstream

	if err := v.Validate(req); err == nil {
		t.Fatal("expected unverified proxy signal to fail")
	}
}
