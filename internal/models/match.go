package models

// RawMatch is a single similarity hit from the vector index, before any
// catalog reconciliation.
type RawMatch struct {
	PatchID int64
	Score   float64 // Inner product of unit vectors (cosine similarity).
}

// ReconciledMatch is a similarity hit joined against the catalog. GroupID and
// GroupName are nil for ungrouped matches.
type ReconciledMatch struct {
	ID        int64   `json:"id"`
	GroupID   *int64  `json:"group_id"`
	GroupName *string `json:"group_name"`
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
}

// UploadResponse is the result of a patch upload: the new patch plus its
// deduplicated similarity matches. Matches holds at most one entry per group
// (the highest-scoring member); UngroupedMatches holds hits against patches
// with no group, unmodified. The two lists partition the surviving raw hits.
type UploadResponse struct {
	Patch            PatchRef          `json:"patch"`
	Matches          []ReconciledMatch `json:"matches"`
	UngroupedMatches []ReconciledMatch `json:"ungrouped_matches"`
}
