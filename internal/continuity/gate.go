// ABOUTME: Decides whether a new question continues the current topic or starts a new one.
// ABOUTME: Keeps a small FIFO window of recent questions per user.

package continuity

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/2389/handoff-bridge/internal/session"
)

const (
	DefaultThreshold = 0.6
	DefaultWindow    = 4
)

// Scorer rates the relatedness of two texts in [0, 1].
type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Store is the subset of the session store the gate needs.
type Store interface {
	Get(userID string) (session.Session, bool)
	Upsert(userID string, fn func(*session.Session)) (session.Session, bool)
}

// Decision is the gate's verdict for one question.
type Decision struct {
	// Question is the cleaned question text.
	Question string
	// Continued is true when the question relates to a retained prior one.
	Continued bool
	// Context holds the prior questions to pass along, oldest first.
	Context []string
}

// Gate scores questions against the user's topic window.
type Gate struct {
	scorer    Scorer
	store     Store
	threshold float64
	window    int
	logger    *slog.Logger
}

// New creates a gate. Zero threshold or window use the defaults.
func New(scorer Scorer, store Store, threshold float64, window int, logger *slog.Logger) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		scorer:    scorer,
		store:     store,
		threshold: threshold,
		window:    window,
		logger:    logger.With("component", "continuity"),
	}
}

// Observe scores question against the window and records it.
// Scoring happens outside the session lock; scorer errors count as unrelated.
func (g *Gate) Observe(ctx context.Context, userID, question string) Decision {
	question = Clean(question)

	sess, _ := g.store.Get(userID)
	prior := sess.Topics

	continued := false
	for _, p := range prior {
		score, err := g.scorer.Score(ctx, question, p)
		if err != nil {
			g.logger.Warn("scoring failed", "user_id", userID, "error", err)
			continue
		}
		if score > g.threshold {
			continued = true
			break
		}
	}

	g.store.Upsert(userID, func(s *session.Session) {
		if !continued {
			s.Topics = nil
		}
		s.Topics = append(s.Topics, question)
		if len(s.Topics) > g.window {
			s.Topics = append([]string(nil), s.Topics[len(s.Topics)-g.window:]...)
		}
	})

	d := Decision{Question: question, Continued: continued}
	if continued {
		d.Context = prior
	}
	return d
}

// Clean strips control characters and applies NFKC normalization.
func Clean(text string) string {
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(norm.NFKC.String(text))
}
