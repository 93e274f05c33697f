package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Receiver reassembles incoming transfers. Metadata frames open a
// transfer, binary frames append to it in arrival order, and the final
// chunk produces an Artifact in the download directory.
type Receiver struct {
	logger     *logrus.Logger
	dir        string
	onProgress func(Progress)
	onComplete func(*Artifact)

	mu       sync.Mutex
	md       *Metadata
	file     *os.File
	received int
	artifact *Artifact
}

func NewReceiver(dir string, logger *logrus.Logger, onProgress func(Progress), onComplete func(*Artifact)) *Receiver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Receiver{logger: logger, dir: dir, onProgress: onProgress, onComplete: onComplete}
}

// OnText handles a text frame from the data channel. Frames that are not
// metadata announcements are ignored.
func (r *Receiver) OnText(text string) {
	md, ok := DecodeMetadata(text)
	if !ok {
		r.logger.Warn("Ignoring unrecognized text frame on data channel")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.md != nil {
		r.logger.Warnf("New metadata for %s while %s incomplete, discarding partial transfer", md.Name, r.md.Name)
		r.discardLocked()
	}

	if md.TotalChunks == 0 {
		// Zero-byte file: complete immediately, no chunks follow.
		r.completeLocked(md, nil)
		return
	}

	f, err := os.CreateTemp(r.dir, ".webdrop-*")
	if err != nil {
		r.logger.Errorf("Failed to open scratch file for %s: %v", md.Name, err)
		r.report(md, 0, err)
		return
	}
	r.md = &md
	r.file = f
	r.received = 0
	r.logger.Infof("Receiving %s (%d bytes, %d chunks)", md.Name, md.Size, md.TotalChunks)
	r.report(md, 0, nil)
}

// OnBinary handles a binary frame. Chunks arriving with no open transfer
// are dropped.
func (r *Receiver) OnBinary(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.md == nil {
		r.logger.Warn("Dropping binary frame with no transfer in progress")
		return
	}
	md := *r.md

	if _, err := r.file.Write(data); err != nil {
		err = fmt.Errorf("write chunk %d: %w", r.received, err)
		r.logger.Errorf("Receive of %s failed: %v", md.Name, err)
		r.discardLocked()
		r.report(md, r.received, err)
		return
	}
	r.received++
	r.report(md, r.received, nil)

	if r.received == md.TotalChunks {
		f := r.file
		r.md = nil
		r.file = nil
		r.completeLocked(md, f)
	}
}

// Reset drops any partial transfer, for channel teardown.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discardLocked()
}

// Artifact returns the most recently completed file, or nil.
func (r *Receiver) Artifact() *Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

func (r *Receiver) discardLocked() {
	if r.file != nil {
		name := r.file.Name()
		r.file.Close()
		os.Remove(name)
	}
	r.md = nil
	r.file = nil
	r.received = 0
}

// completeLocked finalizes a transfer: the scratch file (nil for
// zero-byte files) becomes the artifact, replacing and releasing any
// prior one.
func (r *Receiver) completeLocked(md Metadata, f *os.File) {
	path := filepath.Join(r.dir, artifactName(md))
	if f != nil {
		scratch := f.Name()
		if err := f.Close(); err != nil {
			r.logger.Errorf("Failed to finalize %s: %v", md.Name, err)
			os.Remove(scratch)
			r.report(md, md.TotalChunks, err)
			return
		}
		if err := os.Rename(scratch, path); err != nil {
			r.logger.Errorf("Failed to place %s: %v", md.Name, err)
			os.Remove(scratch)
			r.report(md, md.TotalChunks, err)
			return
		}
	} else {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			r.logger.Errorf("Failed to place %s: %v", md.Name, err)
			r.report(md, 0, err)
			return
		}
	}

	if prior := r.artifact; prior != nil {
		if err := prior.Release(); err != nil && !os.IsNotExist(err) {
			r.logger.Warnf("Failed to release prior artifact: %v", err)
		}
	}
	art := &Artifact{Meta: md, path: path}
	r.artifact = art
	r.received = md.TotalChunks

	r.logger.Infof("Received %s -> %s", md.Name, path)
	r.report(md, md.TotalChunks, nil)
	if r.onComplete != nil {
		r.onComplete(art)
	}
}

// artifactName keeps concurrent receives of same-named files from
// clobbering each other.
func artifactName(md Metadata) string {
	if md.FileID == "" {
		return md.Name
	}
	short := md.FileID
	if len(short) > 8 {
		short = short[:8]
	}
	return short + "-" + md.Name
}

func (r *Receiver) report(md Metadata, completed int, err error) {
	if r.onProgress != nil {
		r.onProgress(progressFor(RoleReceiver, md, completed, err))
	}
}
