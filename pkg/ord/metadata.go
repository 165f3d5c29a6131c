package ord

import "time"

// Metadata is the persisted record for one snapshot, written atomically
// after a successful swap (see the Snapshot Store's saveMetadata).
type Metadata struct {
	CommitHash      string    `json:"commitHash"`
	DirectoryTreeSha string   `json:"directoryTreeSha"`
	FetchTime       time.Time `json:"fetchTime"`
	Branch          string    `json:"branch"`
	Repository      string    `json:"repository"`
	TotalFiles      int       `json:"totalFiles"`
}
