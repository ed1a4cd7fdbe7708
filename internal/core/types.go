package core

import (
	"maps"
	"time"
)

// Utterance is one recognized unit of speech.
type Utterance struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

func NewUtterance(text string, confidence float64) Utterance {
	return Utterance{Text: text, Timestamp: time.Now(), Confidence: confidence}
}

// Params are the values a matcher extracted from an utterance.
type Params map[string]string

func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Reply is what an executor hands back on success. Facts, when set, are
// upserted into long-term memory after the turn is recorded.
type Reply struct {
	Text  string
	Facts map[string]string
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusFallback Status = "fallback"
)

func (s Status) Final() bool {
	return s == StatusOK || s == StatusFailed || s == StatusFallback
}

// Turn is one request/response cycle.
type Turn struct {
	ID         string    `json:"id"`
	Utterance  Utterance `json:"utterance"`
	Capability string    `json:"capability,omitempty"`
	Params     Params    `json:"params,omitempty"`
	Response   string    `json:"response"`
	Status     Status    `json:"status"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

func NewTurn(id string, u Utterance) *Turn {
	return &Turn{
		ID:        id,
		Utterance: u,
		Params:    Params{},
		Status:    StatusPending,
		Started:   time.Now(),
	}
}

// Finish moves a pending turn to a final status. It reports false and leaves
// the turn untouched if the turn was already finished or status is not final.
func (t *Turn) Finish(status Status, response string) bool {
	if t.Status.Final() || !status.Final() {
		return false
	}
	t.Status = status
	t.Response = response
	t.Finished = time.Now()
	return true
}

// Clone returns a deep copy so history readers never share maps with writers.
func (t Turn) Clone() Turn {
	t.Params = t.Params.Clone()
	return t
}

func (t Turn) Duration() time.Duration {
	if t.Finished.IsZero() {
		return 0
	}
	return t.Finished.Sub(t.Started)
}
