package lifecycle

import (
	"context"
	"errors"
	"testing"
)

type fake struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fake) Name() string { return f.name }

func (f *fake) Start(ctx context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	return f.startErr
}

func (f *fake) Stop(ctx context.Context) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var log []string
	m := New()
	m.Add(&fake{name: "a", log: &log})
	m.Add(&fake{name: "b", log: &log})

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log %v, want %v", log, want)
		}
	}
}

func TestStartFailureUnwinds(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := New()
	m.Add(&fake{name: "a", log: &log})
	m.Add(&fake{name: "b", startErr: boom, log: &log})
	m.Add(&fake{name: "c", log: &log})

	if err := m.StartAll(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	want := []string{"start:a", "start:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log %v, want %v", log, want)
		}
	}
}
