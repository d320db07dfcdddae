// Package verify re-hashes preserved content and compares it against the
// checksum recorded when each version was committed.
package verify

import (
	"context"
	"errors"
	"fmt"

	"lockss-go/internal/digest"
	"lockss-go/internal/lockss"
)

// Recorder receives verification outcomes. Optional.
type Recorder interface {
	FileVerified(auID string, match bool)
	RepairEnqueued(auID string, err error)
	RunFinished(auID string, bytes int64, overrun bool)
}

type nopRecorder struct{}

func (nopRecorder) FileVerified(string, bool)       {}
func (nopRecorder) RepairEnqueued(string, error)    {}
func (nopRecorder) RunFinished(string, int64, bool) {}

// lookupAlgorithm resolves the configured algorithm or reports verification
// as unavailable.
func lookupAlgorithm(name string) (digest.Algorithm, error) {
	alg, err := digest.Lookup(name)
	if err != nil {
		return digest.Algorithm{}, fmt.Errorf("%w: %w", lockss.ErrVerificationUnavailable, err)
	}
	return alg, nil
}

// claimedChecksum returns the checksum v asserts under alg. A checksum
// recorded without an algorithm, or by a different one, asserts nothing.
func claimedChecksum(alg digest.Algorithm, v *lockss.Version) (string, bool) {
	sum, ok := v.Checksum()
	if !ok {
		return "", false
	}
	name, ok := v.ChecksumAlgorithm()
	if !ok {
		return "", false
	}
	recorded, err := digest.Lookup(name)
	if err != nil || recorded.Name != alg.Name {
		return "", false
	}
	return sum, true
}

// VerifyResult lists what a Verify call looked at.
type VerifyResult struct {
	Checked    []string // content re-hashed, mismatches included
	Skipped    []string // no live version, or no checksum under the current algorithm
	Mismatched []string
	Bytes      int64
}

// OK reports whether no mismatch was found.
func (r *VerifyResult) OK() bool { return len(r.Mismatched) == 0 }

// ChecksumVerifier checks every file of an AU synchronously.
type ChecksumVerifier struct {
	alg      digest.Algorithm
	store    lockss.ContentStore
	reporter lockss.DamageReporter
	recorder Recorder
	logger   lockss.Logger
}

// NewChecksumVerifier fails with ErrVerificationUnavailable when algorithm
// is empty or unsupported. reporter may be nil.
func NewChecksumVerifier(algorithm string, store lockss.ContentStore, reporter lockss.DamageReporter, logger lockss.Logger) (*ChecksumVerifier, error) {
	alg, err := lookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = lockss.NewNopLogger()
	}
	return &ChecksumVerifier{
		alg:      alg,
		store:    store,
		reporter: reporter,
		recorder: nopRecorder{},
		logger:   logger,
	}, nil
}

// SetRecorder attaches a recorder for outcome counts.
func (v *ChecksumVerifier) SetRecorder(r Recorder) {
	if r != nil {
		v.recorder = r
	}
}

// Algorithm returns the canonical name of the digest in use.
func (v *ChecksumVerifier) Algorithm() string { return v.alg.Name }

// Verify visits every file of au once. Each file's current version is
// snapshotted before its content is read. Storage errors abort the audit.
func (v *ChecksumVerifier) Verify(ctx context.Context, au *lockss.ArchivalUnit) (*VerifyResult, error) {
	files, err := v.store.ContentFiles(ctx, au.ID)
	if err != nil {
		return nil, fmt.Errorf("listing content of %s: %w", au.ID, err)
	}

	result := &VerifyResult{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		version, err := v.store.CurrentVersion(ctx, f)
		if errors.Is(err, lockss.ErrNotFound) {
			result.Skipped = append(result.Skipped, f.URL)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("current version of %s: %w", f.URL, err)
		}

		expected, ok := claimedChecksum(v.alg, version)
		if !ok {
			if alg, tagged := version.ChecksumAlgorithm(); tagged {
				v.logger.Debug("checksum from another algorithm", "url", f.URL, "recorded", alg, "configured", v.alg.Name)
			}
			result.Skipped = append(result.Skipped, f.URL)
			continue
		}

		actual, n, err := v.hash(ctx, version)
		if err != nil {
			return nil, err
		}
		result.Bytes += n
		result.Checked = append(result.Checked, f.URL)

		match := digest.Equal(actual, expected)
		v.recorder.FileVerified(au.ID, match)
		if match {
			continue
		}

		result.Mismatched = append(result.Mismatched, f.URL)
		v.logger.Warn("checksum mismatch", "au", au.ID, "url", f.URL, "version", version.Number,
			"algorithm", v.alg.Name, "expected", expected, "actual", actual)
		if v.reporter != nil {
			if err := v.reporter.ReportMismatch(ctx, au, f.URL); err != nil {
				return nil, fmt.Errorf("reporting mismatch of %s: %w", f.URL, err)
			}
		}
	}

	v.logger.Info("verified archival unit", "au", au.ID, "checked", len(result.Checked),
		"skipped", len(result.Skipped), "mismatched", len(result.Mismatched), "bytes", result.Bytes)
	return result, nil
}

func (v *ChecksumVerifier) hash(ctx context.Context, version *lockss.Version) (string, int64, error) {
	rc, err := v.store.OpenVersion(ctx, version)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s v%d: %w", version.URL, version.Number, err)
	}
	defer rc.Close()

	sum, n, err := v.alg.Sum(rc)
	if err != nil {
		return "", n, fmt.Errorf("hashing %s v%d: %w", version.URL, version.Number, err)
	}
	return sum, n, nil
}
