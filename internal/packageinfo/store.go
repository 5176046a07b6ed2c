// Package packageinfo keeps the package info records workers derive from
// packages (scan results, deep-scan results) and the metadata they compare
// against before redoing work.
package packageinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"packagemanager/internal/apperrors"
)

// Record is one package info entry.
type Record struct {
	Type                       string          `json:"type" validate:"required"`
	PackageID                  string          `json:"packageId" validate:"required"`
	ExpectedContentVersionHash string          `json:"expectedContentVersionHash"`
	ActualContentVersionHash   string          `json:"actualContentVersionHash"`
	Payload                    json.RawMessage `json:"payload,omitempty"`
	Updated                    time.Time       `json:"updated"`
	// RemoveAt is set while a delayed removal is pending.
	RemoveAt time.Time `json:"removeAt,omitzero"`
}

// Metadata is a Record without its payload.
type Metadata struct {
	Type                       string    `json:"type"`
	PackageID                  string    `json:"packageId"`
	ExpectedContentVersionHash string    `json:"expectedContentVersionHash"`
	ActualContentVersionHash   string    `json:"actualContentVersionHash"`
	Updated                    time.Time `json:"updated"`
}

type key struct {
	infoType  string
	packageID string
}

// Store is an in-memory package info store.
type Store struct {
	mu       sync.Mutex
	records  map[key]Record
	validate *validator.Validate
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:  make(map[key]Record),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Update inserts or replaces a record. A pending removal is cancelled.
func (s *Store) Update(r Record) error {
	if err := s.validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.Validation(verrs[0].Field(), fmt.Sprintf("failed %q", verrs[0].Tag()))
		}
		return apperrors.Validation("packageInfo", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.Updated = s.now()
	r.RemoveAt = time.Time{}
	r.Payload = slices.Clone(r.Payload)
	s.records[key{r.Type, r.PackageID}] = r
	return nil
}

// Remove deletes a record, after delay when delay is positive. Removing an
// unknown record is a no-op.
func (s *Store) Remove(infoType, packageID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{infoType, packageID}
	r, ok := s.records[k]
	if !ok {
		return
	}
	if delay <= 0 {
		delete(s.records, k)
		return
	}
	r.RemoveAt = s.now().Add(delay)
	s.records[k] = r
}

// FetchMetadata returns the metadata of the given packages. Unknown ones
// are omitted. An empty packageIDs returns every package of infoType.
func (s *Store) FetchMetadata(infoType string, packageIDs []string) []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	var out []Metadata
	if len(packageIDs) == 0 {
		for k, r := range s.records {
			if k.infoType == infoType {
				out = append(out, metadata(r))
			}
		}
	} else {
		for _, id := range packageIDs {
			if r, ok := s.records[key{infoType, id}]; ok {
				out = append(out, metadata(r))
			}
		}
	}
	slices.SortFunc(out, func(a, b Metadata) int { return strings.Compare(a.PackageID, b.PackageID) })
	return out
}

// Get returns one record.
func (s *Store) Get(infoType, packageID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	r, ok := s.records[key{infoType, packageID}]
	if ok {
		r.Payload = slices.Clone(r.Payload)
	}
	return r, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.records)
}

// sweep drops records whose delayed removal is due. Callers hold mu.
func (s *Store) sweep() {
	now := s.now()
	for k, r := range s.records {
		if !r.RemoveAt.IsZero() && !now.Before(r.RemoveAt) {
			delete(s.records, k)
		}
	}
}

func metadata(r Record) Metadata {
	return Metadata{
		Type:                       r.Type,
		PackageID:                  r.PackageID,
		ExpectedContentVersionHash: r.ExpectedContentVersionHash,
		ActualContentVersionHash:   r.ActualContentVersionHash,
		Updated:                    r.Updated,
	}
}
