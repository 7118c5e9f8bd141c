// Package syncq keeps remote decisions that could not reach the API so they
// can be replayed later with the same idempotency keys.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	TeamID         string          `json:"team_id"`
	Round          int             `json:"round"`
	Final          bool            `json:"final"`
	Decision       json.RawMessage `json:"decision"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

// Queue is a JSON file of pending commands.
type Queue struct {
	path string
}

func New(dir string) *Queue {
	return &Queue{path: filepath.Join(dir, "queue.json")}
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Push appends cmd. A command with the same team and round replaces the
// older one.
func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	kept := commands[:0]
	for _, c := range commands {
		if c.TeamID == cmd.TeamID && c.Round == cmd.Round {
			continue
		}
		kept = append(kept, c)
	}
	return q.Save(append(kept, cmd))
}

// Drain hands each command to send in order. Commands send accepts or
// reports as permanently rejected leave the queue; the first transient
// failure stops the drain and keeps the rest.
func (q *Queue) Drain(send func(Command) (retry bool, err error)) (sent int, err error) {
	commands, err := q.Load()
	if err != nil {
		return 0, err
	}
	var firstErr error
	i := 0
	for ; i < len(commands); i++ {
		retry, err := send(commands[i])
		if err != nil && retry {
			firstErr = err
			break
		}
		if err == nil {
			sent++
		}
	}
	if err := q.Save(commands[i:]); err != nil {
		return sent, err
	}
	return sent, firstErr
}
