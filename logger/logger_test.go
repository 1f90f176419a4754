package logger_test

import (
	"testing"

	"github.com/firasghr/ChallengeGate/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logger.Level{
		"debug": logger.LevelDebug,
		"INFO":  logger.LevelInfo,
		"":      logger.LevelInfo,
		"warn":  logger.LevelWarn,
		"error": logger.LevelError,
	}
	for in, want := range cases {
		got, err := logger.ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q): got %d, want %d", in, got, want)
		}
	}
	if _, err := logger.ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRing_CapturesEntriesAboveLevel(t *testing.T) {
	ring := logger.NewRing(10)
	log := logger.New(logger.Options{Level: logger.LevelInfo, Ring: ring})

	log.Debug("hidden")
	log.Info("resolved cookie", "target", "https://example.com/")
	log.Errorf("upstream %s failed", "example.com")

	got := ring.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(got), got)
	}
	if got[0].Message != "resolved cookie" || got[0].Level != "INFO" {
		t.Errorf("first entry: got %+v", got[0])
	}
	if got[1].Message != "upstream example.com failed" || got[1].Level != "ERROR" {
		t.Errorf("second entry: got %+v", got[1])
	}
}

func TestRing_SetLevel(t *testing.T) {
	ring := logger.NewRing(10)
	log := logger.New(logger.Options{Level: logger.LevelError, Ring: ring})
	log.Info("dropped")
	log.SetLevel(logger.LevelDebug)
	log.Debug("kept")

	got := ring.Recent(0)
	if len(got) != 1 || got[0].Message != "kept" {
		t.Errorf("got %+v, want only the debug entry", got)
	}
}

func TestRing_BoundedAndRecent(t *testing.T) {
	ring := logger.NewRing(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(logger.Entry{Message: m})
	}
	all := ring.Recent(0)
	if len(all) != 3 || all[0].Message != "c" || all[2].Message != "e" {
		t.Errorf("ring contents: got %+v", all)
	}
	last := ring.Recent(2)
	if len(last) != 2 || last[0].Message != "d" {
		t.Errorf("Recent(2): got %+v", last)
	}
}

func TestRing_Subscribe(t *testing.T) {
	ring := logger.NewRing(10)
	ch, cancel := ring.Subscribe(4)
	ring.Add(logger.Entry{Message: "hello"})
	if e := <-ch; e.Message != "hello" {
		t.Errorf("subscriber got %+v", e)
	}
	cancel()
	ring.Add(logger.Entry{Message: "after"})
	select {
	case e := <-ch:
		t.Errorf("unsubscribed channel received %+v", e)
	default:
	}
}

func TestWith_SharesLevel(t *testing.T) {
	ring := logger.NewRing(10)
	log := logger.New(logger.Options{Level: logger.LevelInfo, Ring: ring})
	child := log.With("request_id", "abc")
	log.SetLevel(logger.LevelError)
	child.Info("suppressed")
	if n := len(ring.Recent(0)); n != 0 {
		t.Errorf("child logger ignored parent level change: %d entries", n)
	}
}
