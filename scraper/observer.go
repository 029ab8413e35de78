package scraper

import (
	"log/slog"
)

// Observer receives human-readable progress from a run. Implementations
// must not block for long; they are called from the crawl loop.
type Observer interface {
	Log(msg string)
	Status(text string)
	Progress(pct int)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) Log(string)    {}
func (NopObserver) Status(string) {}
func (NopObserver) Progress(int)  {}

// SlogObserver forwards observer events to a structured logger.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o SlogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o SlogObserver) Log(msg string) {
	o.logger().Info(msg)
}

func (o SlogObserver) Status(text string) {
	o.logger().Info("status", slog.String("status", text))
}

func (o SlogObserver) Progress(pct int) {
	o.logger().Debug("progress", slog.Int("percent", pct))
}

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

func (m MultiObserver) Log(msg string) {
	for _, o := range m {
		o.Log(msg)
	}
}

func (m MultiObserver) Status(text string) {
	for _, o := range m {
		o.Status(text)
	}
}

func (m MultiObserver) Progress(pct int) {
	for _, o := range m {
		o.Progress(pct)
	}
}

// safeObserver shields the crawl from panicking sinks.
type safeObserver struct {
	inner Observer
}

func newSafeObserver(o Observer) safeObserver {
	if o == nil {
		o = NopObserver{}
	}
	return safeObserver{inner: o}
}

func (s safeObserver) Log(msg string) {
	defer s.guard("log")
	s.inner.Log(msg)
}

func (s safeObserver) Status(text string) {
	defer s.guard("status")
	s.inner.Status(text)
}

func (s safeObserver) Progress(pct int) {
	defer s.guard("progress")
	s.inner.Progress(pct)
}

func (s safeObserver) guard(event string) {
	if r := recover(); r != nil {
		slog.Warn("observer panicked", slog.String("event", event), slog.Any("panic", r))
	}
}
