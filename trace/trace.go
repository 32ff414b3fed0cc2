// Package trace records document extraction attempts to SQLite.
//
// Every strategy attempt, OCR run, and final per-file outcome can be
// recorded. The store persists asynchronously: records go through a
// bounded channel to a flush goroutine, and are dropped rather than block
// extraction when the buffer is full.
//
//	db, _ := sql.Open("sqlite", "traces.db")
//	store := trace.NewStore(db)
//	store.Init()
//	proc := docext.New(docext.Config{Recorder: store})
package trace

import "time"

// Attempt is one recorded extraction attempt: a single (decoder, strategy)
// candidate, an OCR run, or a final per-file outcome.
type Attempt struct {
	ID         string
	FileName   string
	DocType    string
	Method     string
	Strategy   string
	Score      float64
	DurationUs int64
	Error      string
	Sample     string
	Timestamp  time.Time
}

// Recorder is the sink extraction code records through. Store persists to
// local SQLite, RemoteStore ships to a collector endpoint, Nop discards
// everything.
type Recorder interface {
	Record(a Attempt)
	Close() error
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) Record(Attempt) {}
func (nopRecorder) Close() error   { return nil }
