// Package ord holds the data types shared across the provider: the ORD
// document shape, the FQN map, snapshot metadata, update state, and cache
// entries described by the content lifecycle subsystem.
package ord

import "encoding/json"

// Perspective is the declared viewpoint of a document.
type Perspective string

const (
	PerspectiveSystemVersion    Perspective = "system-version"
	PerspectiveSystemInstance   Perspective = "system-instance"
	PerspectiveSystemIndependent Perspective = "system-independent"

	// DefaultPerspective is used when a document omits the field. Resolves
	// the source's conflicting defaults in favor of system-instance.
	DefaultPerspective = PerspectiveSystemInstance
)

// AccessStrategy is one authentication mode advertised for a resource.
type AccessStrategy struct {
	Type string `json:"type"`
}

// ResourceDefinition points at the underlying artifact (OpenAPI spec, schema,
// etc.) for a resource.
type ResourceDefinition struct {
	Type             string           `json:"type,omitempty"`
	MediaType        string           `json:"mediaType,omitempty"`
	URL              string           `json:"url"`
	AccessStrategies []AccessStrategy `json:"accessStrategies,omitempty"`
}

// Resource is the common shape of an apiResource or eventResource entry.
type Resource struct {
	OrdID               string               `json:"ordId"`
	ResourceDefinitions []ResourceDefinition `json:"resourceDefinitions,omitempty"`

	// Extra is not filled by JSON decoding (it is tagged "-" and there is no
	// custom unmarshaller); fields this type does not model are kept only in
	// the enclosing Document's Raw bytes.
	Extra map[string]json.RawMessage `json:"-"`
}

// DescribedSystemInstance carries the baseUrl rewritten per request context.
type DescribedSystemInstance struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

// Document is the top-level ORD JSON shape. Unknown fields are preserved via
// Raw so the processor can patch known fields in place without losing the
// rest of the document.
type Document struct {
	OpenResourceDiscovery   string                   `json:"openResourceDiscovery"`
	Perspective             Perspective              `json:"perspective,omitempty"`
	DescribedSystemInstance *DescribedSystemInstance `json:"describedSystemInstance,omitempty"`
	APIResources            []Resource               `json:"apiResources,omitempty"`
	EventResources          []Resource               `json:"eventResources,omitempty"`

	// Raw is the original document bytes; the processor patches this
	// directly via gjson/sjson rather than round-tripping through this
	// struct, which exists mainly for validation and typed inspection.
	Raw []byte `json:"-"`
}

// EffectivePerspective returns the document's perspective, defaulting per
// DefaultPerspective when absent.
func (d *Document) EffectivePerspective() Perspective {
	if d.Perspective == "" {
		return DefaultPerspective
	}
	return d.Perspective
}

// ParseDocument parses raw ORD JSON, retaining the original bytes.
func ParseDocument(raw []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	d.Raw = raw
	return &d, nil
}
