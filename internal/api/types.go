package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnknownAlgorithm is returned for algorithm names outside the closed set.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Default sizing shared by every bandit in a deployment
const (
	DefaultContextDimension = 8
	DefaultNumActions       = 4
)

// Algorithm names a bandit variant. The zero value means "orchestrator default".
type Algorithm string

const (
	AlgorithmDoublyRobust Algorithm = "doubly_robust"
	AlgorithmOffsetTree   Algorithm = "offset_tree"
)

// Algorithms lists every supported variant in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{AlgorithmDoublyRobust, AlgorithmOffsetTree}
}

// ParseAlgorithm validates an algorithm name
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case AlgorithmDoublyRobust, AlgorithmOffsetTree:
		return Algorithm(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Valid reports whether a is one of the supported variants.
func (a Algorithm) Valid() bool {
	_, err := ParseAlgorithm(string(a))
	return err == nil
}

func (a Algorithm) String() string {
	return string(a)
}

// Context describes a single decision request (who, where, which signals)
type Context struct {
	Identity  string             `json:"identity"`
	Domain    string             `json:"domain"`
	Features  map[string]float64 `json:"features,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

// NewContext builds a Context stamped with the current UTC time.
// The feature map is copied so later caller mutations do not leak in.
func NewContext(identity, domain string, features map[string]float64) Context {
	return Context{
		Identity:  identity,
		Domain:    domain,
		Features:  copyFeatures(features),
		Timestamp: time.Now().UTC(),
	}
}

// Feature returns a named feature or the fallback when absent.
func (c Context) Feature(name string, fallback float64) float64 {
	if v, ok := c.Features[name]; ok {
		return v
	}
	return fallback
}

// Action is the arm chosen by exactly one bandit for one decision
type Action struct {
	ActionID          string         `json:"action_id"`
	Confidence        float64        `json:"confidence"`
	Algorithm         Algorithm      `json:"algorithm"`
	ExplorationFactor float64        `json:"exploration_factor"`
	PredictedReward   float64        `json:"predicted_reward"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Index parses the arm index carried in ActionID.
func (a Action) Index() (int, error) {
	idx, err := strconv.Atoi(a.ActionID)
	if err != nil {
		return 0, fmt.Errorf("invalid action id %q: %w", a.ActionID, err)
	}
	return idx, nil
}

// ActionID formats an arm index the way bandits report it.
func ActionID(index int) string {
	return strconv.Itoa(index)
}

// Feedback ties an observed reward back to the Context and Action that produced it
type Feedback struct {
	Context   Context   `json:"context"`
	Action    Action    `json:"action"`
	Reward    float64   `json:"reward"`
	Timestamp time.Time `json:"timestamp"`
}

// NewFeedback stamps a Feedback with the current UTC time.
func NewFeedback(c Context, a Action, reward float64) Feedback {
	return Feedback{
		Context:   c,
		Action:    a,
		Reward:    reward,
		Timestamp: time.Now().UTC(),
	}
}

func copyFeatures(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
