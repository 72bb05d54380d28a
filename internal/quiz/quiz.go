// Package quiz implements the bypass challenge engine: timed arithmetic
// problems whose answers never leave the daemon. A client that tampers with
// its local copy of a challenge cannot influence validation.
package quiz

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"blockandfocus/internal/config"
)

// Validation outcomes. Every failure except ErrNotFound consumes the pending
// challenge, so a wrong guess cannot be retried against the same answers.
var (
	ErrNotFound    = errors.New("no matching challenge")
	ErrExpired     = errors.New("challenge has expired")
	ErrTooFast     = errors.New("answered too quickly")
	ErrWrongAnswer = errors.New("one or more answers are incorrect")
)

// Challenge is the client-visible half of a pending quiz.
type Challenge struct {
	ID        string
	Questions []string
	ExpiresAt time.Time
}

// pending is the server-side record. answers stays private to this package.
type pending struct {
	id        string
	answers   []int
	issuedAt  time.Time
	expiresAt time.Time
	minSolve  time.Duration
	duration  time.Duration
}

// Engine holds at most one pending challenge. Issuing a new challenge
// supersedes any outstanding one.
type Engine struct {
	mu      sync.Mutex
	now     func() time.Time
	pending *pending
}

// NewEngine creates an engine with the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Issue generates a fresh challenge from the quiz settings and records the
// bypass duration to grant on success.
func (e *Engine) Issue(cfg config.QuizConfig, duration time.Duration) Challenge {
	questions := make([]string, cfg.NumQuestions)
	answers := make([]int, cfg.NumQuestions)
	for i := range questions {
		questions[i], answers[i] = generateQuestion(cfg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	issued := e.now()
	ch := Challenge{
		ID:        uuid.New().String(),
		Questions: questions,
		ExpiresAt: issued.Add(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	e.pending = &pending{
		id:        ch.ID,
		answers:   answers,
		issuedAt:  issued,
		expiresAt: ch.ExpiresAt,
		minSolve:  time.Duration(cfg.MinSolveSeconds) * time.Second,
		duration:  duration,
	}

	logrus.WithFields(logrus.Fields{
		"challenge_id": ch.ID,
		"questions":    len(questions),
		"expires_in":   cfg.TimeoutSeconds,
	}).Debug("Issued quiz challenge")

	return ch
}

// Submit validates answers against the pending challenge. On success it
// clears the challenge and returns the bypass duration recorded at issue
// time. An unknown id leaves the pending challenge untouched; every other
// failure clears it.
func (e *Engine) Submit(id string, answers []int) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pending
	if p == nil || p.id != id {
		return 0, ErrNotFound
	}

	now := e.now()
	if now.After(p.expiresAt) {
		e.pending = nil
		return 0, ErrExpired
	}
	if elapsed := now.Sub(p.issuedAt); elapsed < p.minSolve {
		e.pending = nil
		logrus.WithFields(logrus.Fields{
			"elapsed":   elapsed,
			"min_solve": p.minSolve,
		}).Warn("Quiz answered suspiciously fast")
		return 0, ErrTooFast
	}
	if len(answers) != len(p.answers) {
		e.pending = nil
		return 0, ErrWrongAnswer
	}
	for i := range answers {
		if answers[i] != p.answers[i] {
			e.pending = nil
			return 0, ErrWrongAnswer
		}
	}

	e.pending = nil
	return p.duration, nil
}

// generateQuestion produces one arithmetic problem. Operands are uniform in
// [min_operand, max_operand]; subtraction is ordered so the result is never
// negative.
func generateQuestion(cfg config.QuizConfig) (string, int) {
	a := randOperand(cfg)
	b := randOperand(cfg)
	switch rand.Intn(3) {
	case 0:
		return fmt.Sprintf("%d + %d = ?", a, b), a + b
	case 1:
		if b > a {
			a, b = b, a
		}
		return fmt.Sprintf("%d - %d = ?", a, b), a - b
	default:
		return fmt.Sprintf("%d × %d = ?", a, b), a * b
	}
}

func randOperand(cfg config.QuizConfig) int {
	return cfg.MinOperand + rand.Intn(cfg.MaxOperand-cfg.MinOperand+1)
}
