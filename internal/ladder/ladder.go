// Package ladder holds the Amidakuji game state machine. It is pure state:
// the hub owns the real timers and drives transitions by calling Tick and
// ExpirePlay, which keeps every transition testable without sleeping.
package ladder

import (
	"errors"
	"math/rand"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRecruiting Phase = "recruiting"
	PhaseInput      Phase = "input_phase"
	PhasePlaying    Phase = "playing"
)

const (
	// RecruitSeconds is the recruitment countdown start value.
	RecruitSeconds = 30
	// PlaySeconds is the auto-reset safety net after a game starts.
	PlaySeconds = 30
	// Rows is the number of horizontal slots per column gap.
	Rows = 10

	rungChance = 0.5
)

var ErrWrongPhase = errors.New("request does not match current phase")
var ErrAlreadyJoined = errors.New("nickname already participating")
var ErrNotCreator = errors.New("requester is not the game creator")
var ErrIndexOutOfRange = errors.New("result index out of range")

type Participant struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"profileImage"`
}

// Rung is a horizontal connector between column Col and Col+1 at row Row.
type Rung struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// Session is the single process-wide game instance. Not safe for
// concurrent use; the hub's event loop is its only caller.
type Session struct {
	phase        Phase
	participants []Participant
	results      []string
	rungs        []Rung
	countdown    int
	rng          *rand.Rand
}

func NewSession(rng *rand.Rand) *Session {
	return &Session{phase: PhaseIdle, rng: rng}
}

func (s *Session) Phase() Phase   { return s.phase }
func (s *Session) Countdown() int { return s.countdown }

func (s *Session) Participants() []Participant {
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

func (s *Session) Results() []string {
	out := make([]string, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Session) Rungs() []Rung {
	out := make([]Rung, len(s.rungs))
	copy(out, s.rungs)
	return out
}

// Creator returns participants[0]. The creator's nickname is the
// comparison key for run/reset authorization.
func (s *Session) Creator() (Participant, bool) {
	if len(s.participants) == 0 {
		return Participant{}, false
	}
	return s.participants[0], true
}

// Create starts recruitment with the requester as sole participant.
// First creator wins; anything but Idle is rejected.
func (s *Session) Create(p Participant) error {
	if s.phase != PhaseIdle {
		return ErrWrongPhase
	}
	s.phase = PhaseRecruiting
	s.participants = []Participant{p}
	s.results = nil
	s.rungs = nil
	s.countdown = RecruitSeconds
	return nil
}

// Join adds a participant during recruitment. Duplicate nicknames are
// rejected so one player cannot occupy two lanes.
func (s *Session) Join(p Participant) error {
	if s.phase != PhaseRecruiting {
		return ErrWrongPhase
	}
	for _, existing := range s.participants {
		if existing.Nickname == p.Nickname {
			return ErrAlreadyJoined
		}
	}
	s.participants = append(s.participants, p)
	return nil
}

// Tick advances the recruitment countdown by one second. When it hits
// zero the session enters the input phase with one empty result slot per
// participant, and entered reports that exactly once.
func (s *Session) Tick() (remaining int, entered bool, err error) {
	if s.phase != PhaseRecruiting {
		return 0, false, ErrWrongPhase
	}
	s.countdown--
	if s.countdown > 0 {
		return s.countdown, false, nil
	}
	s.countdown = 0
	s.phase = PhaseInput
	s.results = make([]string, len(s.participants))
	return 0, true, nil
}

// SetResult updates one result label during the input phase.
// Out-of-range indices leave the state unchanged.
func (s *Session) SetResult(index int, value string) error {
	if s.phase != PhaseInput {
		return ErrWrongPhase
	}
	if index < 0 || index >= len(s.results) {
		return ErrIndexOutOfRange
	}
	s.results[index] = value
	return nil
}

// Run transitions InputPhase -> Playing and generates the rungs: for each
// adjacent column gap and each of the Rows slots, a rung exists with
// probability 0.5, independently. Nothing prevents rungs at (c,r) and
// (c+1,r) coexisting; Resolve handles that case with a fixed priority
// instead of the generator avoiding it.
func (s *Session) Run(requesterNickname string) error {
	if s.phase != PhaseInput {
		return ErrWrongPhase
	}
	creator, ok := s.Creator()
	if !ok || creator.Nickname != requesterNickname {
		return ErrNotCreator
	}

	s.rungs = nil
	for col := 0; col < len(s.participants)-1; col++ {
		for row := 0; row < Rows; row++ {
			if s.rng.Float64() < rungChance {
				s.rungs = append(s.rungs, Rung{Col: col, Row: row})
			}
		}
	}
	s.phase = PhasePlaying
	return nil
}

// Reset is the creator's explicit Playing -> Idle transition.
func (s *Session) Reset(requesterNickname string) error {
	if s.phase != PhasePlaying {
		return ErrWrongPhase
	}
	creator, ok := s.Creator()
	if !ok || creator.Nickname != requesterNickname {
		return ErrNotCreator
	}
	s.clear()
	return nil
}

// ExpirePlay is the auto-reset safety net fired by the 30s timer.
// It is a no-op outside Playing so a stale timer cannot clobber a newer
// game.
func (s *Session) ExpirePlay() bool {
	if s.phase != PhasePlaying {
		return false
	}
	s.clear()
	return true
}

func (s *Session) clear() {
	s.phase = PhaseIdle
	s.participants = nil
	s.results = nil
	s.rungs = nil
	s.countdown = 0
}

// Resolve walks a participant starting at column start down all rows and
// returns the final column, which indexes into the result labels. At each
// row a rung to the right of the current column is taken first; only if
// none exists is a rung on the left taken. That ordering is what makes
// the double-rung case (rungs at both (col,row) and (col-1,row))
// deterministic.
func Resolve(rungs []Rung, start int) int {
	col := start
	for row := 0; row < Rows; row++ {
		if hasRung(rungs, col, row) {
			col++
		} else if hasRung(rungs, col-1, row) {
			col--
		}
	}
	return col
}

func hasRung(rungs []Rung, col, row int) bool {
	for _, r := range rungs {
		if r.Col == col && r.Row == row {
			return true
		}
	}
	return false
}
