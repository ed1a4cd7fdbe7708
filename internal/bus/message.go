// Package bus connects the assistant to a websocket hub shared with other
// shards. Frames are JSON messages addressed by shard name.
package bus

import (
	"encoding/json"
	"fmt"
)

const Broadcast = "all"

type Kind string

const (
	KindUtterance Kind = "utterance" // recognized text for the assistant
	KindAudio     Kind = "audio"     // raw audio to transcribe
	KindSay       Kind = "say"       // text for a speaking shard
	KindSend      Kind = "send"      // outgoing message for a messaging shard
	KindAck       Kind = "ack"
	KindStop      Kind = "stop"
)

type Message struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Kind      Kind   `json:"kind"`
	Content   string `json:"content,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Error     string `json:"error,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
}

func (m Message) For(shard string) bool {
	return m.To == shard || m.To == Broadcast
}

// Reply builds an ack addressed back to the sender of m.
func (m Message) Reply(from string, err error) Message {
	r := Message{ID: m.ID, From: from, To: m.From, Kind: KindAck}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode bus message: %w", err)
	}
	if m.Kind == "" {
		return Message{}, fmt.Errorf("decode bus message: missing kind")
	}
	return m, nil
}
