package auth

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
)

const (
	headerClientCert    = "X-Forwarded-Client-Cert"
	headerSslClient     = "X-Ssl-Client"
	headerSslVerify     = "X-Ssl-Client-Verify"
	headerIssuerDN      = "X-Ssl-Client-Issuer-Dn"
	headerSubjectDN     = "X-Ssl-Client-Subject-Dn"
	headerRootCADN      = "X-Ssl-Client-Root-Ca-Dn"
	sslClientPresent    = "1"
	sslVerifySuccessful = "0"
)

// TrustedPair is one (issuer, subject) DN combination allowed to
// authenticate via mTLS.
type TrustedPair struct {
	Issuer  string
	Subject string
}

// MTLSValidator validates the Cloud Foundry container-to-container mTLS
// proxy headers (SAP CF's sap:cmp-mtls:v1 access strategy): a verified
// proxy triple plus a trusted (issuer, subject) pair and a trusted root.
type MTLSValidator struct {
	TrustedPairs []TrustedPair
	TrustedRoots []string
}

func NewMTLSValidator(pairs []TrustedPair, roots []string) *MTLSValidator {
	return &MTLSValidator{TrustedPairs: pairs, TrustedRoots: roots}
}

func (m *MTLSValidator) Validate(r *http.Request) error {
	if r.Header.Get(headerClientCert) == "" {
		return apierror.Unauthorized("missing client certificate header")
	}
	if r.Header.Get(headerSslClient) != sslClientPresent {
		return apierror.Unauthorized("missing ssl-client proxy header")
	}
	if r.Header.Get(headerSslVerify) != sslVerifySuccessful {
		return apierror.Unauthorized("proxy did not verify client certificate")
	}

	issuer, err := decodeDN(r.Header.Get(headerIssuerDN))
	if err != nil {
		return apierror.Unauthorized("malformed issuer DN header")
	}
	subject, err := decodeDN(r.Header.Get(headerSubjectDN))
	if err != nil {
		return apierror.Unauthorized("malformed subject DN header")
	}
	rootCA, err := decodeDN(r.Header.Get(headerRootCADN))
	if err != nil {
		return apierror.Unauthorized("malformed root CA DN header")
	}

	canonIssuer := canonicalizeDN(issuer)
	canonSubject := canonicalizeDN(subject)
	canonRoot := canonicalizeDN(rootCA)

	pairMatched := false
	for _, p := range m.TrustedPairs {
		if dnEqual(canonIssuer, canonicalizeDN(p.Issuer)) && dnEqual(canonSubject, canonicalizeDN(p.Subject)) {
			pairMatched = true
			break
		}
	}
	if !pairMatched {
		return apierror.Unauthorized("client certificate issuer/subject not trusted")
	}

	rootMatched := false
	for _, root := range m.TrustedRoots {
		if dnEqual(canonRoot, canonicalizeDN(root)) {
			rootMatched = true
			break
		}
	}
	if !rootMatched {
		return apierror.Unauthorized("client certificate root CA not trusted")
	}

	return nil
}

func decodeDN(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// canonicalizeDN tokenizes a distinguished name into sorted "KEY=value"
// RDN tokens: split on "," or "/", trim whitespace, uppercase the
// attribute key, lowercase the value, so two differently-ordered or
// differently-cased renderings of the same DN compare equal as a
// multiset.
func canonicalizeDN(dn string) []string {
	fields := strings.FieldsFunc(dn, func(r rune) bool { return r == ',' || r == '/' })
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			tokens = append(tokens, strings.ToLower(f))
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		value := strings.ToLower(strings.TrimSpace(parts[1]))
		tokens = append(tokens, key+"="+value)
	}
	sort.Strings(tokens)
	return tokens
}

func dnEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
