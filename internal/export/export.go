// Package export copies the objects of a storage account to and from a portable
// JSON lines dump, one object per line.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/adrianmcphee/canarystore"
)

// Record is one stored object in a dump
type Record struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Filename string          `json:"filename,omitempty"`
	Value    json.RawMessage `json:"value"`
}

// Summary counts what an export or import did, per object type
type Summary struct {
	Objects map[string]int `json:"objects"`
	Skipped int            `json:"skipped"`
	Errors  []string       `json:"errors,omitempty"`
}

func newSummary() *Summary {
	return &Summary{Objects: make(map[string]int), Errors: []string{}}
}

// Export writes every object of account to w. Canary configs are listed from
// storage rather than the index so drifted entries are still exported.
// Objects that fail to load are reported in the summary and left out.
func Export(ctx context.Context, service canarystore.StorageService, account canarystore.Account, w io.Writer) (*Summary, error) {
	summary := newSummary()
	enc := json.NewEncoder(w)

	for _, objectType := range canarystore.ObjectTypes() {
		listed, err := service.ListObjectKeys(ctx, account, objectType, canarystore.ListOptions{SkipIndex: true})
		if err != nil {
			return summary, fmt.Errorf("failed to list %s: %w", objectType, err)
		}

		for _, entry := range listed {
			value := objectType.NewValue()
			if err := service.LoadObject(ctx, account, objectType, entry.ID, value); err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", objectType, entry.ID, err))
				continue
			}
			raw, err := json.Marshal(value)
			if err != nil {
				return summary, err
			}

			record := Record{Type: objectType.String(), ID: entry.ID, Value: raw}
			if objectType == canarystore.CanaryConfigType && entry.Name != "" {
				record.Filename = entry.Name + ".json"
			}
			if err := enc.Encode(record); err != nil {
				return summary, err
			}
			summary.Objects[objectType.String()]++
		}
	}
	return summary, nil
}

// ImportOptions controls how existing objects are treated
type ImportOptions struct {
	// Overwrite replaces objects whose id already exists; otherwise they are skipped
	Overwrite bool
}

// Import stores every record read from r into account. Canary configs go through
// the config write path so the target's index stays in step.
func Import(ctx context.Context, service canarystore.StorageService, account canarystore.Account, r io.Reader, opts ImportOptions) (*Summary, error) {
	summary := newSummary()
	dec := json.NewDecoder(r)

	for line := 1; ; line++ {
		var record Record
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return summary, nil
			}
			return summary, canarystore.WithContext(canarystore.ErrInvalidData, map[string]interface{}{
				"record": line,
				"reason": err.Error(),
			})
		}

		objectType, err := canarystore.ParseObjectType(record.Type)
		if err != nil {
			return summary, err
		}
		if record.ID == "" {
			return summary, canarystore.WithContext(canarystore.ErrInvalidData, map[string]interface{}{
				"record": line,
				"reason": "record has no id",
			})
		}
		value := objectType.NewValue()
		if err := json.Unmarshal(record.Value, value); err != nil {
			return summary, canarystore.WithContext(canarystore.ErrInvalidData, map[string]interface{}{
				"record": line,
				"reason": err.Error(),
			})
		}

		exists, err := objectExists(ctx, service, account, objectType, record.ID)
		if err != nil {
			return summary, err
		}
		if exists && !opts.Overwrite {
			summary.Skipped++
			continue
		}

		storeOpts := canarystore.StoreOptions{Filename: record.Filename, IsUpdate: exists}
		if config, ok := value.(*canarystore.CanaryConfig); ok && config.Name != "" {
			storeOpts.Filename = config.Name + ".json"
		}
		if err := service.StoreObject(ctx, account, objectType, record.ID, value, storeOpts); err != nil {
			if canarystore.IsDuplicateName(err) {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", objectType, record.ID, err))
				continue
			}
			return summary, err
		}
		summary.Objects[objectType.String()]++
	}
}

func objectExists(ctx context.Context, service canarystore.StorageService, account canarystore.Account, objectType canarystore.ObjectType, id string) (bool, error) {
	err := service.LoadObject(ctx, account, objectType, id, objectType.NewValue())
	switch {
	case err == nil:
		return true, nil
	case canarystore.IsNotFound(err):
		return false, nil
	case errors.Is(err, canarystore.ErrDeserialize):
		// Present but unreadable; storing over it repairs the object
		return true, nil
	default:
		return false, err
	}
}
