package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrTransferInFlight is returned when a send is requested while another
// transfer is still running on this sender.
var ErrTransferInFlight = errors.New("transfer already in flight")

// Channel is the slice of a data channel the transfer engine needs.
// *webrtc.DataChannel satisfies it.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	BufferedAmount() uint64
}

// Sender streams one file at a time over a channel, pausing whenever the
// channel's buffered backlog crosses the high-water mark.
type Sender struct {
	logger     *logrus.Logger
	onProgress func(Progress)

	mu       sync.Mutex
	active   bool
	reserved bool
}

func NewSender(logger *logrus.Logger, onProgress func(Progress)) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sender{logger: logger, onProgress: onProgress}
}

// Sending reports whether a transfer is currently in flight.
func (s *Sender) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reserve claims the transfer slot ahead of a Send, so callers that run
// the send on a separate goroutine can fail fast while a transfer is in
// flight. The next Send consumes the reservation and frees the slot when
// it returns.
func (s *Sender) Reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrTransferInFlight
	}
	s.active = true
	s.reserved = true
	return nil
}

// Send announces md over ch, then streams the file's bytes in ChunkSize
// pieces. It blocks until the transfer completes, fails, or ctx is
// cancelled. Only one send may run at a time.
func (s *Sender) Send(ctx context.Context, ch Channel, md Metadata, r io.Reader) error {
	s.mu.Lock()
	if s.active && !s.reserved {
		s.mu.Unlock()
		return ErrTransferInFlight
	}
	s.active = true
	s.reserved = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	err := s.send(ctx, ch, md, r)
	if err != nil {
		s.logger.Errorf("Transfer %s failed: %v", md.FileID, err)
	}
	return err
}

func (s *Sender) send(ctx context.Context, ch Channel, md Metadata, r io.Reader) error {
	frame, err := EncodeMetadata(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := ch.SendText(frame); err != nil {
		return fmt.Errorf("send metadata: %w", err)
	}
	s.logger.Infof("Sending %s (%d bytes, %d chunks)", md.Name, md.Size, md.TotalChunks)

	if md.TotalChunks == 0 {
		s.report(md, 0, nil)
		return nil
	}

	buf := make([]byte, ChunkSize)
	sent := 0
	for sent < md.TotalChunks {
		if err := s.waitForDrain(ctx, ch); err != nil {
			s.report(md, sent, err)
			return err
		}
		n, err := io.ReadFull(r, buf)
		if err == io.ErrUnexpectedEOF && sent == md.TotalChunks-1 {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("read chunk %d: %w", sent, err)
			s.report(md, sent, err)
			return err
		}
		// Copy before handing off; the channel may queue the slice.
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if err := ch.Send(chunk); err != nil {
			err = fmt.Errorf("send chunk %d: %w", sent, err)
			s.report(md, sent, err)
			return err
		}
		sent++
		s.report(md, sent, nil)
	}
	s.logger.Infof("Transfer %s complete", md.FileID)
	return nil
}

// waitForDrain blocks while the channel's backlog sits above the
// high-water mark. Cancellation is honored even when the backlog never
// drains, so an abandoned channel cannot park the send forever.
func (s *Sender) waitForDrain(ctx context.Context, ch Channel) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ch.BufferedAmount() <= HighWaterMark {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BackpressureWait * time.Millisecond):
		}
	}
}

func (s *Sender) report(md Metadata, completed int, err error) {
	if s.onProgress != nil {
		s.onProgress(progressFor(RoleSender, md, completed, err))
	}
}
