package recording

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ivlev/framecap/internal/clock"
)

type appendCall struct {
	timestamp float64
	duration  float64
}

type fakeSink struct {
	mu          sync.Mutex
	startErr    error
	appendErr   error
	finalizeErr error
	cancelErr   error
	startGate   chan struct{}
	appendGate  chan struct{}

	appends []appendCall
	events  []string
}

func (s *fakeSink) record(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *fakeSink) Start(ctx context.Context) error {
	if s.startGate != nil {
		<-s.startGate
	}
	s.record("start")
	return s.startErr
}

func (s *fakeSink) Append(ctx context.Context, frame *image.RGBA, timestamp, duration float64) error {
	if s.appendGate != nil {
		<-s.appendGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "append")
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends = append(s.appends, appendCall{timestamp: timestamp, duration: duration})
	return nil
}

func (s *fakeSink) Close() { s.record("close") }

func (s *fakeSink) Finalize(ctx context.Context) (Output, error) {
	s.record("finalize")
	if s.finalizeErr != nil {
		return Output{}, s.finalizeErr
	}
	return Output{Data: []byte("video"), MimeType: "video/mp4"}, nil
}

func (s *fakeSink) Cancel(ctx context.Context) error {
	s.record("cancel")
	return s.cancelErr
}

func (s *fakeSink) snapshot() ([]appendCall, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appendCall(nil), s.appends...), append([]string(nil), s.events...)
}

func (s *fakeSink) count(ev string) int {
	_, events := s.snapshot()
	n := 0
	for _, e := range events {
		if e == ev {
			n++
		}
	}
	return n
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	released int
}

func (f *fakeSource) Snapshot() (*image.RGBA, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeSource) Release(*image.RGBA) {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func newRecording(t *testing.T, p Params) *Recording {
	t.Helper()
	if p.Source == nil {
		p.Source = &fakeSource{}
	}
	p.Logger = zaptest.NewLogger(t)
	r, err := New(context.Background(), p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func waitStatus(t *testing.T, r *Recording, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Status() != want {
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want %s", r.Status(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func wait(t *testing.T, r *Recording) (Output, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := r.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("recording never settled")
	}
	return out, err
}

func TestFrameAccurateAnchoredDuration(t *testing.T) {
	sink := &fakeSink{}
	var settled int
	r := newRecording(t, Params{
		Mode:      FrameAccurate,
		FPS:       10,
		Duration:  2.0,
		Sink:      sink,
		OnSettled: func(Output, error) { settled++ },
	})
	waitStatus(t, r, ReadyForFrames)

	frame := 37
	for i := 0; i < 25; i++ {
		res, err := r.CaptureFrame(frame)
		if err != nil {
			if !errors.Is(err, ErrNotReady) {
				t.Fatalf("CaptureFrame(%d): %v", frame, err)
			}
			break
		}
		if err := <-res; err != nil {
			t.Fatalf("append %d: %v", frame, err)
		}
		frame++
	}

	out, err := wait(t, r)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(out.Data) != "video" {
		t.Errorf("output = %q", out.Data)
	}

	appends, _ := sink.snapshot()
	if len(appends) != 20 {
		t.Fatalf("appended %d frames, want 20", len(appends))
	}
	if appends[0].timestamp != 0 {
		t.Errorf("first timestamp = %v, want 0", appends[0].timestamp)
	}
	if last := appends[19].timestamp; math.Abs(last-1.9) > 1e-9 {
		t.Errorf("last timestamp = %v, want 1.9", last)
	}
	for i, a := range appends {
		if math.Abs(a.duration-0.1) > 1e-12 {
			t.Errorf("append %d duration = %v, want 0.1", i, a.duration)
		}
		if i > 0 && a.timestamp <= appends[i-1].timestamp {
			t.Errorf("timestamps not strictly increasing at %d", i)
		}
	}
	if first, _ := r.FirstFrame(); first != 37 {
		t.Errorf("FirstFrame = %d, want 37", first)
	}
	if last, _ := r.LastCapturedFrame(); last != 56 {
		t.Errorf("LastCapturedFrame = %d, want 56", last)
	}
	if settled != 1 {
		t.Errorf("OnSettled ran %d times", settled)
	}
	if sink.count("finalize") != 1 || sink.count("cancel") != 0 {
		t.Errorf("unexpected sink events: %v", sink.events)
	}
}

func TestRealtimeUntilStopped(t *testing.T) {
	sink := &fakeSink{}
	r := newRecording(t, Params{Mode: Realtime, FPS: 30, Sink: sink})
	waitStatus(t, r, ReadyForFrames)

	for f := 0; f < 300; f += 2 {
		res, err := r.CaptureFrame(f)
		if err != nil {
			t.Fatalf("CaptureFrame(%d): %v", f, err)
		}
		<-res
	}
	if got := r.Status(); got != ReadyForFrames {
		t.Fatalf("unbounded realtime recording stopped itself: %s", got)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := r.CaptureFrame(1000); !errors.Is(err, ErrNotReady) {
		t.Errorf("capture after Stop: err = %v, want ErrNotReady", err)
	}
	if _, err := wait(t, r); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	appends, _ := sink.snapshot()
	if len(appends) != 150 {
		t.Errorf("appended %d frames, want 150", len(appends))
	}
	if err := r.Stop(); !errors.Is(err, ErrTerminated) {
		t.Errorf("second Stop: err = %v, want ErrTerminated", err)
	}
}

func TestRealtimeWithDuration(t *testing.T) {
	sink := &fakeSink{}
	r := newRecording(t, Params{Mode: Realtime, FPS: 10, Duration: 1, Sink: sink})
	waitStatus(t, r, ReadyForFrames)

	for f := 5; r.Status() == ReadyForFrames; f++ {
		res, err := r.CaptureFrame(f)
		if err != nil {
			t.Fatalf("CaptureFrame(%d): %v", f, err)
		}
		<-res
	}
	if _, err := wait(t, r); err != nil {
		t.Fatal(err)
	}
	if appends, _ := sink.snapshot(); len(appends) != 10 {
		t.Errorf("appended %d frames, want 10", len(appends))
	}
}

func TestCancelWaitsForInFlightCapture(t *testing.T) {
	sink := &fakeSink{appendGate: make(chan struct{})}
	r := newRecording(t, Params{Mode: FrameAccurate, FPS: 30, Duration: 10, Sink: sink})
	waitStatus(t, r, ReadyForFrames)

	res, err := r.CaptureFrame(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := r.Status(); got != Canceling {
		t.Errorf("status after Cancel = %s, want canceling", got)
	}

	time.Sleep(20 * time.Millisecond)
	if n := sink.count("cancel"); n != 0 {
		t.Fatal("sink canceled before the in-flight append settled")
	}

	close(sink.appendGate)
	if err := <-res; err != nil {
		t.Errorf("in-flight append result = %v", err)
	}
	_, err = wait(t, r)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Wait err = %v, want ErrCanceled", err)
	}

	_, events := sink.snapshot()
	want := []string{"start", "append", "close", "cancel"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestStartFailureCancels(t *testing.T) {
	boom := errors.New("no container")
	sink := &fakeSink{startErr: boom}
	r := newRecording(t, Params{Mode: Realtime, FPS: 30, Sink: sink})

	_, err := wait(t, r)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want %v", err, boom)
	}
	if r.Status() != Canceling {
		t.Errorf("status = %s", r.Status())
	}
	if sink.count("cancel") != 1 {
		t.Error("sink.Cancel not called after start failure")
	}
}

func TestCaptureFailureIsNotRetried(t *testing.T) {
	boom := errors.New("encoder exploded")
	sink := &fakeSink{appendErr: boom}
	r := newRecording(t, Params{Mode: FrameAccurate, FPS: 30, Duration: 1, Sink: sink})
	waitStatus(t, r, ReadyForFrames)

	res, err := r.CaptureFrame(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-res; !errors.Is(err, boom) {
		t.Errorf("append result = %v", err)
	}
	_, err = wait(t, r)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want %v", err, boom)
	}
	if _, err := r.CaptureFrame(4); !errors.Is(err, ErrNotReady) {
		t.Errorf("capture after failure: %v", err)
	}
	if n := sink.count("append"); n != 1 {
		t.Errorf("append attempted %d times", n)
	}
}

func TestFinalizeFailureReroutesToCancel(t *testing.T) {
	boom := errors.New("mux failed")
	sink := &fakeSink{finalizeErr: boom}
	var settled int
	r := newRecording(t, Params{
		Mode:      FrameAccurate,
		FPS:       10,
		Duration:  0.1,
		Sink:      sink,
		OnSettled: func(Output, error) { settled++ },
	})
	waitStatus(t, r, ReadyForFrames)

	res, err := r.CaptureFrame(0)
	if err != nil {
		t.Fatal(err)
	}
	<-res

	_, err = wait(t, r)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want %v", err, boom)
	}
	if sink.count("cancel") != 1 {
		t.Error("finalize failure did not cancel the sink")
	}
	if sink.count("close") != 1 {
		t.Errorf("sink closed %d times", sink.count("close"))
	}
	if settled != 1 {
		t.Errorf("OnSettled ran %d times", settled)
	}
}

func TestCancelFailureStillReported(t *testing.T) {
	sink := &fakeSink{cancelErr: errors.New("cleanup failed")}
	r := newRecording(t, Params{Mode: Realtime, FPS: 30, Sink: sink})
	waitStatus(t, r, ReadyForFrames)
	if err := r.Cancel(); err != nil {
		t.Fatal(err)
	}
	_, err := wait(t, r)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, sink.cancelErr) {
		t.Fatalf("Wait err = %v, want both cancellation and cleanup errors", err)
	}
}

func TestMisuseLeavesStateUntouched(t *testing.T) {
	sink := &fakeSink{startGate: make(chan struct{}), appendGate: make(chan struct{})}
	r := newRecording(t, Params{Mode: FrameAccurate, FPS: 30, Duration: 10, Sink: sink})

	if _, err := r.CaptureFrame(0); !errors.Is(err, ErrNotReady) {
		t.Errorf("capture while initializing: %v", err)
	}
	if _, ok := r.FirstFrame(); ok {
		t.Error("rejected capture set the anchor")
	}

	close(sink.startGate)
	waitStatus(t, r, ReadyForFrames)

	res, err := r.CaptureFrame(5)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Capturing() {
		t.Error("Capturing() = false with an append in flight")
	}
	if _, err := r.CaptureFrame(6); !errors.Is(err, ErrCaptureInFlight) {
		t.Errorf("overlapping capture: %v", err)
	}
	close(sink.appendGate)
	<-res

	for _, f := range []int{5, 4} {
		if _, err := r.CaptureFrame(f); !errors.Is(err, ErrFrameNotAhead) {
			t.Errorf("CaptureFrame(%d): %v, want ErrFrameNotAhead", f, err)
		}
	}
	if last, _ := r.LastCapturedFrame(); last != 5 {
		t.Errorf("LastCapturedFrame = %d", last)
	}
	if r.CanCapture(5) || !r.CanCapture(6) {
		t.Error("CanCapture disagrees with CaptureFrame")
	}
	r.Cancel()
	wait(t, r)
}

func TestSnapshotFailureCancels(t *testing.T) {
	boom := errors.New("surface lost")
	sink := &fakeSink{}
	r := newRecording(t, Params{Mode: Realtime, FPS: 30, Sink: sink, Source: &fakeSource{err: boom}})
	waitStatus(t, r, ReadyForFrames)

	if _, err := r.CaptureFrame(0); !errors.Is(err, boom) {
		t.Fatalf("CaptureFrame err = %v", err)
	}
	if _, err := wait(t, r); !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"frame-accurate without duration", Params{Mode: FrameAccurate, FPS: 30, Sink: &fakeSink{}, Source: &fakeSource{}}, ErrDurationRequired},
		{"unknown mode", Params{Mode: "slow-motion", FPS: 30, Duration: 1, Sink: &fakeSink{}, Source: &fakeSource{}}, ErrUnknownMode},
		{"nil sink", Params{Mode: Realtime, FPS: 30, Source: &fakeSource{}}, ErrNilSink},
		{"nil source", Params{Mode: Realtime, FPS: 30, Sink: &fakeSink{}}, ErrNilSource},
		{"zero fps", Params{Mode: Realtime, Sink: &fakeSink{}, Source: &fakeSource{}}, clock.ErrInvalidFPS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.p); !errors.Is(err, tt.want) {
				t.Errorf("New err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDurationPolicyBoundary(t *testing.T) {
	c := clock.MustNew(10)
	p := DurationPolicy{Duration: 2}
	tests := []struct {
		frame, first int
		want         bool
	}{
		{37, 37, false},
		{55, 37, false}, // 19th frame
		{56, 37, true},  // 20th frame crosses the boundary
		{57, 37, true},
	}
	for _, tt := range tests {
		if got := p.ShouldStop(c, tt.frame, tt.first); got != tt.want {
			t.Errorf("ShouldStop(%d, %d) = %v, want %v", tt.frame, tt.first, got, tt.want)
		}
	}
	if (UntilStopped{}).ShouldStop(c, 1<<30, 0) {
		t.Error("UntilStopped stopped")
	}
	// 0.1*3 is slightly above 0.3; three frames must still be enough
	if !(DurationPolicy{Duration: 0.1 * 3}).ShouldStop(c, 2, 0) {
		t.Error("float rounding in duration added an extra frame")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"frame-accurate": FrameAccurate,
		"deterministic":  FrameAccurate,
		"Realtime":       Realtime,
	} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("nope"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseMode(nope) err = %v", err)
	}
}
