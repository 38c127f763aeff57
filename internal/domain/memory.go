package domain

import "time"

// MemoryPermission flags what an agent may do to a given MemoryRecord.
type MemoryPermission struct {
	RecordID string `json:"recordId"`
	AgentID  AgentID `json:"agentId"`
	Read     bool   `json:"read"`
	Write    bool   `json:"write"`
	Delete   bool   `json:"delete"`
}

// MemoryRecordMetadata carries bookkeeping fields for a MemoryRecord.
type MemoryRecordMetadata struct {
	Tags          []string  `json:"tags,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RelatedRecords []string `json:"relatedRecords,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
}

// MemoryRecord is a unit of shared agent memory, content-addressed by RecordID.
type MemoryRecord struct {
	RecordID        string               `json:"recordId"`
	Key             string               `json:"key"`
	Category        string               `json:"category"`
	Data            string               `json:"data"` // opaque structured value, stored as JSON text
	AgentOrigin     AgentID              `json:"agentOrigin"`
	EmbeddingVector []float64            `json:"embeddingVector,omitempty"`
	Metadata        MemoryRecordMetadata `json:"metadata"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Clone returns a deep copy of the record.
func (r MemoryRecord) Clone() MemoryRecord {
	clone := r
	clone.EmbeddingVector = append([]float64(nil), r.EmbeddingVector...)
	clone.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	clone.Metadata.RelatedRecords = append([]string(nil), r.Metadata.RelatedRecords...)
	return clone
}

// MemoryPatch is the set of mutable fields Update may change.
type MemoryPatch struct {
	Data            *string
	EmbeddingVector []float64
	Metadata        *MemoryRecordMetadata
}
