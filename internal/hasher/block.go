package hasher

import (
	"context"
	"errors"
	"hash"
	"io"

	"lockss-go/internal/digest"
	"lockss-go/internal/lockss"
)

// ContentJob hashes the current version of every file in an AU. Each file
// is one block. Files whose versions are all deleted are skipped.
type ContentJob struct {
	Store      lockss.ContentStore
	AU         *lockss.ArchivalUnit
	Algorithms []digest.Algorithm
}

var _ Job = (*ContentJob)(nil)

func (j *ContentJob) Hash(ctx context.Context, t *Throttle, emit func(Block)) error {
	files, err := j.Store.ContentFiles(ctx, j.AU.ID)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := j.Store.CurrentVersion(ctx, f)
		if errors.Is(err, lockss.ErrNotFound) {
			continue
		}
		if err != nil {
			emit(Block{URL: f.URL, Err: err})
			continue
		}
		emit(j.hashVersion(ctx, t, v))
	}
	return nil
}

func (j *ContentJob) hashVersion(ctx context.Context, t *Throttle, v *lockss.Version) Block {
	b := Block{URL: v.URL, Version: v}

	rc, err := j.Store.OpenVersion(ctx, v)
	if err != nil {
		b.Err = err
		return b
	}
	defer rc.Close()

	hashes := make([]hash.Hash, len(j.Algorithms))
	writers := make([]io.Writer, len(j.Algorithms))
	for i, alg := range j.Algorithms {
		hashes[i] = alg.New()
		writers[i] = hashes[i]
	}

	buf := make([]byte, t.StepSize())
	n, err := io.CopyBuffer(io.MultiWriter(writers...), t.Reader(ctx, rc), buf)
	b.FilteredBytes = n
	if err != nil {
		b.Err = err
		return b
	}
	for _, h := range hashes {
		b.Digests = append(b.Digests, digest.Hex(h))
	}
	return b
}
