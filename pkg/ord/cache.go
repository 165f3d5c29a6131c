package ord

// FqnEntry is one physical location for a resource identified by an ORD id.
type FqnEntry struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
}

// FqnMap maps an ordId to the files that realize it, derived across every
// document in a snapshot.
type FqnMap map[string][]FqnEntry

// ConfigDocument is one entry of the well-known ORD configuration response.
type ConfigDocument struct {
	URL              string           `json:"url"`
	AccessStrategies []AccessStrategy `json:"accessStrategies,omitempty"`
	Perspective      Perspective      `json:"perspective,omitempty"`
}

// Configuration is the body served at /.well-known/open-resource-discovery.
type Configuration struct {
	OpenResourceDiscoveryV1 struct {
		Documents []ConfigDocument `json:"documents"`
	} `json:"openResourceDiscoveryV1"`
}

// CacheEntry is the per-directory-hash cache record described by the data
// model: processed documents, the built configuration, the FQN map, and the
// ordered document path list, all generated together from one directory
// hash.
type CacheEntry struct {
	Hash              string
	ProcessedDocuments map[string]*Document
	Config            *Configuration
	FqnMap            FqnMap
	DocumentPaths     []string
}
