package selector

import (
	"errors"
	"testing"
	"time"

	"lockss-go/internal/lockss"
	"lockss-go/internal/testutil"
)

type fakeCollection struct {
	name    string
	percent float64
	err     error
	calls   int
}

func (f *fakeCollection) Name() string { return f.name }

func (f *fakeCollection) DiskUsage() (lockss.DiskUsage, error) {
	f.calls++
	if f.err != nil {
		return lockss.DiskUsage{}, f.err
	}
	return lockss.DiskUsage{Used: int64(f.percent), Avail: int64(100 - f.percent), PercentUsed: f.percent}, nil
}

func newSelector(collections ...Collection) *Selector {
	return New(Options{WarnPercent: 90, FullPercent: 98}, collections...)
}

func TestSelectLeastFull(t *testing.T) {
	tests := []struct {
		name        string
		collections []*fakeCollection
		want        string
		wantErr     error
	}{
		{
			name: "strictly lowest wins",
			collections: []*fakeCollection{
				{name: "a", percent: 50}, {name: "b", percent: 20}, {name: "c", percent: 30},
			},
			want: "b",
		},
		{
			name: "tie goes to first listed",
			collections: []*fakeCollection{
				{name: "a", percent: 40}, {name: "b", percent: 40},
			},
			want: "a",
		},
		{
			name: "warn level still selectable",
			collections: []*fakeCollection{
				{name: "a", percent: 95},
			},
			want: "a",
		},
		{
			name: "full excluded even when least full",
			collections: []*fakeCollection{
				{name: "a", percent: 99}, {name: "b", percent: 98},
			},
			wantErr: lockss.ErrNoSpace,
		},
		{
			name: "full excluded, next lowest chosen",
			collections: []*fakeCollection{
				{name: "a", percent: 98.5}, {name: "b", percent: 97.9},
			},
			want: "b",
		},
		{
			name: "unreadable usage skipped",
			collections: []*fakeCollection{
				{name: "a", err: errors.New("statfs failed")}, {name: "b", percent: 60},
			},
			want: "b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cols []Collection
			var names []string
			for _, c := range tt.collections {
				cols = append(cols, c)
				names = append(names, c.name)
			}
			s := newSelector(cols...)

			got, err := s.SelectLeastFull(names)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SelectLeastFull() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectLeastFull() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectLeastFull() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectLeastFull_UnknownCandidate(t *testing.T) {
	s := newSelector(&fakeCollection{name: "a", percent: 10})

	got, err := s.SelectLeastFull([]string{"missing", "a"})
	if err != nil {
		t.Fatalf("SelectLeastFull() error = %v", err)
	}
	if got != "a" {
		t.Errorf("SelectLeastFull() = %q, want a", got)
	}

	if _, err := s.SelectLeastFull(nil); !errors.Is(err, lockss.ErrNoSpace) {
		t.Errorf("SelectLeastFull(nil) error = %v, want ErrNoSpace", err)
	}
}

func TestStatus(t *testing.T) {
	s := newSelector(
		&fakeCollection{name: "ok", percent: 10},
		&fakeCollection{name: "warn", percent: 90},
		&fakeCollection{name: "full", percent: 98},
	)

	tests := []struct {
		name string
		want Level
	}{
		{"ok", LevelOK},
		{"warn", LevelWarn},
		{"full", LevelFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := s.Status(tt.name)
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, _, err := s.Status("missing"); !errors.Is(err, lockss.ErrNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDiskUsage_Cache(t *testing.T) {
	clock := testutil.FixedClock()
	col := &fakeCollection{name: "a", percent: 10}
	s := New(Options{WarnPercent: 90, FullPercent: 98, CacheTTL: 10 * time.Second, Clock: clock}, col)

	for i := 0; i < 3; i++ {
		if _, err := s.DiskUsage("a"); err != nil {
			t.Fatalf("DiskUsage() error = %v", err)
		}
	}
	if col.calls != 1 {
		t.Errorf("DiskUsage() read backing store %d times, want 1", col.calls)
	}

	clock.Advance(11 * time.Second)
	col.percent = 50
	usage, _ := s.DiskUsage("a")
	if usage.PercentUsed != 50 || col.calls != 2 {
		t.Errorf("after TTL: percent = %.0f, calls = %d, want 50 and 2", usage.PercentUsed, col.calls)
	}
}
