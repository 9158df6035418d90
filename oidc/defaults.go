package oidckit

// Provider describes where an identity provider publishes its signing keys and
// how its issuer string is derived from a project id.
type Provider struct {
	Name         string
	KeysURL      string
	KeysFormat   string
	IssuerPrefix string
}

// IssuerFor returns the exact issuer a token for projectID must carry.
func (p Provider) IssuerFor(projectID string) string {
	return p.IssuerPrefix + projectID
}

// DefaultsFor returns the settings for a known provider name.
func DefaultsFor(name string) (Provider, bool) {
	switch name {
	case "firebase", "":
		return Provider{
			Name:         "firebase",
			KeysURL:      "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com",
			KeysFormat:   FormatX509,
			IssuerPrefix: "https://securetoken.google.com/",
		}, true
	case "firebase-jwks":
		// Same keys, published as a JWKS document.
		return Provider{
			Name:         "firebase-jwks",
			KeysURL:      "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
			KeysFormat:   FormatJWKS,
			IssuerPrefix: "https://securetoken.google.com/",
		}, true
	default:
		return Provider{}, false
	}
}
