package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeChannel records frames and lets tests fake a congested channel.
type fakeChannel struct {
	mu       sync.Mutex
	texts    []string
	binaries [][]byte
	buffered uint64
	sendErr  error
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.binaries = append(c.binaries, cp)
	return nil
}

func (c *fakeChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *fakeChannel) setBuffered(n uint64) {
	c.mu.Lock()
	c.buffered = n
	c.mu.Unlock()
}

func (c *fakeChannel) binaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binaries)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testMetadata(name string, size int64) Metadata {
	return Metadata{
		Name:        name,
		Size:        size,
		Type:        "application/octet-stream",
		TotalChunks: TotalChunks(size),
		FileID:      "file-1234abcd",
	}
}

func fillPattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestTotalChunks(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{0, 0},
		{1, 1},
		{ChunkSize, 1},
		{ChunkSize + 1, 2},
		{40 * 1024, 3},
	}
	for _, c := range cases {
		if got := TotalChunks(c.size); got != c.want {
			t.Errorf("TotalChunks(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestMetadataRoundTripsThroughControlFrame(t *testing.T) {
	md := testMetadata("report.pdf", 100)
	frame, err := EncodeMetadata(md)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := DecodeMetadata(frame)
	if !ok {
		t.Fatal("decode rejected own frame")
	}
	if got != md {
		t.Errorf("decoded = %+v, want %+v", got, md)
	}
	if _, ok := DecodeMetadata(`{"type":"chat","payload":{}}`); ok {
		t.Error("non-metadata frame accepted")
	}
	if _, ok := DecodeMetadata("not json"); ok {
		t.Error("garbage frame accepted")
	}
}

func TestSendThenReceiveReassemblesFile(t *testing.T) {
	dir := t.TempDir()
	data := fillPattern(40 * 1024)
	md := testMetadata("blob.bin", int64(len(data)))

	var sendPcts []int
	sender := NewSender(quietLogger(), func(p Progress) {
		sendPcts = append(sendPcts, p.Percentage)
	})
	ch := &fakeChannel{}
	if err := sender.Send(context.Background(), ch, md, bytes.NewReader(data)); err != nil {
		t.Fatalf("send: %v", err)
	}

	wantPcts := []int{33, 67, 100}
	if len(sendPcts) != len(wantPcts) {
		t.Fatalf("progress reports = %v, want %v", sendPcts, wantPcts)
	}
	for i, want := range wantPcts {
		if sendPcts[i] != want {
			t.Errorf("progress[%d] = %d, want %d", i, sendPcts[i], want)
		}
	}

	var done *Artifact
	recv := NewReceiver(dir, quietLogger(), nil, func(a *Artifact) { done = a })
	for _, text := range ch.texts {
		recv.OnText(text)
	}
	for _, chunk := range ch.binaries {
		recv.OnBinary(chunk)
	}

	if done == nil {
		t.Fatal("transfer did not complete")
	}
	got, err := os.ReadFile(done.Path())
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("artifact bytes differ: got %d bytes, want %d", len(got), len(data))
	}
	if done.Meta.Name != "blob.bin" {
		t.Errorf("artifact name = %q", done.Meta.Name)
	}
}

func TestZeroByteFileCompletesOnMetadata(t *testing.T) {
	dir := t.TempDir()
	md := testMetadata("empty.txt", 0)

	var last Progress
	sender := NewSender(quietLogger(), func(p Progress) { last = p })
	ch := &fakeChannel{}
	if err := sender.Send(context.Background(), ch, md, bytes.NewReader(nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ch.binaryCount() != 0 {
		t.Errorf("binary frames = %d, want 0", ch.binaryCount())
	}
	if last.Percentage != 100 || !last.Done {
		t.Errorf("sender progress = %+v, want 100%% done", last)
	}

	var done *Artifact
	recv := NewReceiver(dir, quietLogger(), func(p Progress) { last = p }, func(a *Artifact) { done = a })
	recv.OnText(ch.texts[0])
	if done == nil {
		t.Fatal("zero-byte transfer did not complete")
	}
	if last.Percentage != 100 {
		t.Errorf("receiver percentage = %d, want 100", last.Percentage)
	}
	info, err := os.Stat(done.Path())
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("artifact size = %d, want 0", info.Size())
	}
}

func TestSenderPausesAboveHighWaterMark(t *testing.T) {
	data := fillPattern(2 * ChunkSize)
	md := testMetadata("slow.bin", int64(len(data)))

	ch := &fakeChannel{}
	ch.setBuffered(HighWaterMark + 1)
	sender := NewSender(quietLogger(), nil)

	errc := make(chan error, 1)
	go func() { errc <- sender.Send(context.Background(), ch, md, bytes.NewReader(data)) }()

	time.Sleep(150 * time.Millisecond)
	if n := ch.binaryCount(); n != 0 {
		t.Fatalf("sent %d chunks while above high-water mark", n)
	}

	ch.setBuffered(0)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not resume after drain")
	}
	if n := ch.binaryCount(); n != 2 {
		t.Errorf("chunks = %d, want 2", n)
	}
}

func TestSenderCancelledWhileBackpressured(t *testing.T) {
	data := fillPattern(2 * ChunkSize)
	md := testMetadata("stuck.bin", int64(len(data)))

	ch := &fakeChannel{}
	ch.setBuffered(HighWaterMark + 1)
	sender := NewSender(quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sender.Send(ctx, ch, md, bytes.NewReader(data)) }()

	deadline := time.Now().Add(time.Second)
	for !sender.Sending() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// The backlog never drains; cancellation must still end the send.
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("send err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled send never returned")
	}
	if n := ch.binaryCount(); n != 0 {
		t.Errorf("sent %d chunks after cancel", n)
	}
	if sender.Sending() {
		t.Error("sender still marked in flight")
	}
}

func TestSenderReserveFailsFastWhileInFlight(t *testing.T) {
	data := fillPattern(ChunkSize)
	md := testMetadata("r.bin", int64(len(data)))

	ch := &fakeChannel{}
	ch.setBuffered(HighWaterMark + 1)
	sender := NewSender(quietLogger(), nil)

	if err := sender.Reserve(); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := sender.Reserve(); !errors.Is(err, ErrTransferInFlight) {
		t.Fatalf("second reserve err = %v, want ErrTransferInFlight", err)
	}

	// The reserved slot is consumed by the send that follows.
	errc := make(chan error, 1)
	go func() { errc <- sender.Send(context.Background(), ch, md, bytes.NewReader(data)) }()
	ch.setBuffered(0)
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sender.Reserve(); err != nil {
		t.Errorf("reserve after send err = %v, want nil", err)
	}
}

func TestSenderRejectsConcurrentTransfer(t *testing.T) {
	data := fillPattern(ChunkSize)
	md := testMetadata("a.bin", int64(len(data)))

	ch := &fakeChannel{}
	ch.setBuffered(HighWaterMark + 1)
	sender := NewSender(quietLogger(), nil)

	errc := make(chan error, 1)
	go func() { errc <- sender.Send(context.Background(), ch, md, bytes.NewReader(data)) }()

	// Wait for the first send to park on backpressure.
	deadline := time.Now().Add(time.Second)
	for !sender.Sending() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := sender.Send(context.Background(), ch, md, bytes.NewReader(data)); !errors.Is(err, ErrTransferInFlight) {
		t.Errorf("second send err = %v, want ErrTransferInFlight", err)
	}

	ch.setBuffered(0)
	if err := <-errc; err != nil {
		t.Fatalf("first send: %v", err)
	}
}

func TestSenderAbortsOnChannelError(t *testing.T) {
	data := fillPattern(ChunkSize)
	md := testMetadata("a.bin", int64(len(data)))

	var last Progress
	var reports atomic.Int32
	sender := NewSender(quietLogger(), func(p Progress) {
		last = p
		reports.Add(1)
	})

	// Metadata goes through, every binary send fails.
	ch := &binaryFailChannel{inner: &fakeChannel{}}
	err := sender.Send(context.Background(), ch, md, bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected send error")
	}
	if reports.Load() == 0 || last.Err == nil {
		t.Errorf("final progress = %+v, want error report", last)
	}
	if last.Completed != 0 {
		t.Errorf("completed = %d, want 0", last.Completed)
	}
}

// binaryFailChannel lets metadata through and fails all binary sends.
type binaryFailChannel struct {
	inner *fakeChannel
}

func (c *binaryFailChannel) Send(data []byte) error     { return errors.New("channel closed") }
func (c *binaryFailChannel) SendText(text string) error { return c.inner.SendText(text) }
func (c *binaryFailChannel) BufferedAmount() uint64     { return 0 }

func TestReceiverDropsChunkWithoutMetadata(t *testing.T) {
	recv := NewReceiver(t.TempDir(), quietLogger(), nil, func(a *Artifact) {
		t.Error("unexpected completion")
	})
	recv.OnBinary([]byte{1, 2, 3})
	if recv.Artifact() != nil {
		t.Error("artifact produced from orphan chunk")
	}
}

func TestReceiverNewMetadataDiscardsPartial(t *testing.T) {
	dir := t.TempDir()
	var done *Artifact
	recv := NewReceiver(dir, quietLogger(), nil, func(a *Artifact) { done = a })

	first := testMetadata("first.bin", 2*ChunkSize)
	frame, _ := EncodeMetadata(first)
	recv.OnText(frame)
	recv.OnBinary(fillPattern(ChunkSize))

	second := testMetadata("second.bin", ChunkSize)
	second.FileID = "file-5678efgh"
	frame, _ = EncodeMetadata(second)
	recv.OnText(frame)
	recv.OnBinary(fillPattern(ChunkSize))

	if done == nil {
		t.Fatal("second transfer did not complete")
	}
	if done.Meta.Name != "second.bin" {
		t.Errorf("artifact = %q, want second.bin", done.Meta.Name)
	}
}

func TestNewArtifactReleasesPrior(t *testing.T) {
	dir := t.TempDir()
	var artifacts []*Artifact
	recv := NewReceiver(dir, quietLogger(), nil, func(a *Artifact) { artifacts = append(artifacts, a) })

	for i, name := range []string{"one.bin", "two.bin"} {
		md := testMetadata(name, ChunkSize)
		md.FileID = md.FileID + string(rune('a'+i))
		frame, _ := EncodeMetadata(md)
		recv.OnText(frame)
		recv.OnBinary(fillPattern(ChunkSize))
	}

	if len(artifacts) != 2 {
		t.Fatalf("completions = %d, want 2", len(artifacts))
	}
	if artifacts[0].Path() != "" {
		t.Error("prior artifact not released")
	}
	if _, err := os.Stat(artifacts[1].Path()); err != nil {
		t.Errorf("live artifact missing: %v", err)
	}
}

func TestArtifactReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	var done *Artifact
	recv := NewReceiver(dir, quietLogger(), nil, func(a *Artifact) { done = a })

	md := testMetadata("solo.bin", ChunkSize)
	frame, _ := EncodeMetadata(md)
	recv.OnText(frame)
	recv.OnBinary(fillPattern(ChunkSize))

	path := done.Path()
	if err := done.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := done.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact file still present after release")
	}
}
