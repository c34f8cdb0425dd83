package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the durable backends when persisting a Snapshot into
// a key/payload state table.
const (
	BucketPlates = "plates"
	BucketRuns   = "runs"
)

// Buckets lists the persisted bucket names in write order.
var Buckets = []string{BucketPlates, BucketRuns}

// EncodeBuckets serializes each bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketPlates:
			data, err = json.Marshal(s.Plates)
		case BucketRuns:
			data, err = json.Marshal(s.Runs)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the snapshot field named by bucket.
// Unknown buckets and empty payloads are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketPlates:
		target = &s.Plates
	case BucketRuns:
		target = &s.Runs
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
