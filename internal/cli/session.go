package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoMembership = errors.New("no game joined yet")

// Membership remembers which game and team a CLI user plays.
type Membership struct {
	GameID   string `json:"game_id"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Code     string `json:"code,omitempty"`
}

func (m *Membership) valid() bool {
	return m != nil && strings.TrimSpace(m.GameID) != "" && strings.TrimSpace(m.TeamID) != ""
}

type Session struct {
	APIBaseURL string      `json:"api_base_url,omitempty"`
	Remote     *Membership `json:"remote,omitempty"`
	Local      *Membership `json:"local,omitempty"`
}

// RemoteMembership returns the joined remote game or ErrNoMembership.
func (s Session) RemoteMembership() (Membership, error) {
	if !s.Remote.valid() {
		return Membership{}, fmt.Errorf("%w: run `msim remote join` first", ErrNoMembership)
	}
	return *s.Remote, nil
}

// LocalMembership returns the current local game or ErrNoMembership.
func (s Session) LocalMembership() (Membership, error) {
	if !s.Local.valid() {
		return Membership{}, fmt.Errorf("%w: run `msim local new` first", ErrNoMembership)
	}
	return *s.Local, nil
}

func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".msim")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

// LoadSession returns an empty session when none has been saved yet.
func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("session file %s: %w", path, err)
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
