// Package specversion implements the content-hash spec-version mechanism
// (§3 "Specification version", §9: "specification version tracking by
// content hash"): every time a project's spec file content changes, a new
// version record is appended, and later readers can detect drift against
// whatever version they started with.
package specversion

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/cortex/internal/projects"
)

// Hash returns the SHA-256 content hash of spec bytes, hex-encoded.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Repository is the subset of *projects.Repository this package needs,
// kept narrow so it is trivially fakeable in tests.
type Repository interface {
	Get(id string) (*projects.Project, error)
	AddSpecVersion(id string, v projects.SpecVersion) error
}

// Tracker records spec content changes as new version history entries.
type Tracker struct {
	repo Repository
	now  func() time.Time
	ids  func() string
}

// New builds a Tracker that stamps versions with time.Now and takes their
// ids from uuid.NewString.
func New(repo Repository) *Tracker {
	return &Tracker{repo: repo, now: time.Now, ids: uuid.NewString}
}

// RecordIfChanged computes content's hash and, if it differs from the
// project's current active version (or no version exists yet), appends a
// new SpecVersion and returns it. Returns the existing active version
// (changed=false) when content is unchanged.
func (t *Tracker) RecordIfChanged(projectID string, content []byte) (version projects.SpecVersion, changed bool, err error) {
	p, err := t.repo.Get(projectID)
	if err != nil {
		return projects.SpecVersion{}, false, err
	}

	hash := Hash(content)
	if active, ok := p.ActiveSpecVersion(); ok && active.Hash == hash {
		return active, false, nil
	}

	v := projects.SpecVersion{
		ID:        t.ids(),
		Hash:      hash,
		CreatedAt: t.now(),
	}
	if err := t.repo.AddSpecVersion(projectID, v); err != nil {
		return projects.SpecVersion{}, false, err
	}
	return v, true, nil
}

// DriftMessage formats the plan-log entry required by the spec's
// boundary-behavior scenario ("spec version drift"): §8 scenario 4 says
// a reloading plan must log exactly this shape.
func DriftMessage(from, to string) string {
	return "spec version changed " + from + "→" + to + ", regenerating"
}
