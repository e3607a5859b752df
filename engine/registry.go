package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const codeDigits = 1000000 // 6-digit numeric session codes

var (
	minPrize = decimal.RequireFromString("0.001")
	maxPrize = decimal.NewFromInt(1000)
)

// Registry owns every live session in the process, keyed by code. The
// mutex guards the map only; session internals are the session actor's
// business.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg       Config
	clock     clockwork.Clock
	broadcast Broadcaster
	sink      SnapshotSink
	onFinish  func(FinalResult)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithConfig(cfg Config) RegistryOption {
	return func(r *Registry) { r.cfg = cfg }
}

func WithBroadcaster(b Broadcaster) RegistryOption {
	return func(r *Registry) { r.broadcast = b }
}

func WithSnapshotSink(s SnapshotSink) RegistryOption {
	return func(r *Registry) { r.sink = s }
}

// WithFinishHook registers a callback invoked (on its own goroutine)
// whenever a session reaches a terminal state.
func WithFinishHook(fn func(FinalResult)) RegistryOption {
	return func(r *Registry) { r.onFinish = fn }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[string]*Session),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		broadcast: nopBroadcaster{},
		sink:      nopSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetBroadcaster wires the gateway in after construction; the hub and
// the registry reference each other, so one side has to attach late.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast = b
}

// SetFinishHook attaches the archive callback after construction, for
// the same wiring-order reason as SetBroadcaster. Sessions created
// before the call do not pick it up.
func (r *Registry) SetFinishHook(fn func(FinalResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = fn
}

// CreateParams are the host-supplied parameters of a new session.
type CreateParams struct {
	HostWallet string
	PrizePool  decimal.Decimal
	IsFreeGame bool
}

// Create validates the prize parameters, draws a fresh code and starts
// the session actor. Paid games need a host wallet and a prize inside
// the allowed band; nothing is registered on a validation failure.
func (r *Registry) Create(quiz QuizSnapshot, p CreateParams) (*Session, error) {
	if len(quiz.Questions) == 0 {
		return nil, Validationf("quiz %q has no questions", quiz.Title)
	}
	if !p.IsFreeGame {
		if p.HostWallet == "" {
			return nil, Validationf("a host wallet is required for paid games")
		}
		if p.PrizePool.LessThan(minPrize) || p.PrizePool.GreaterThan(maxPrize) {
			return nil, Validationf("prize pool %s is outside [%s, %s]",
				p.PrizePool, minPrize, maxPrize)
		}
	}
	if p.HostWallet == "" {
		// Hostless free games get a synthesized host identity,
		// otherwise no connection could ever pass the host checks.
		p.HostWallet = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.drawCode()
	if err != nil {
		return nil, Internal(err)
	}
	s := newSession(code, quiz, p.HostWallet, p.PrizePool, p.IsFreeGame,
		r.cfg, r.clock, r.broadcaster(), r.sink, r.onFinish)
	r.sessions[code] = s

	log.Info().Str("code", code).Str("quiz", quiz.Title).
		Bool("free", p.IsFreeGame).Str("prize", p.PrizePool.String()).
		Msg("session created")
	return s, nil
}

// drawCode retries until it finds a code not held by a live session.
// Caller holds the write lock.
func (r *Registry) drawCode() (string, error) {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(codeDigits))
		if err != nil {
			return "", fmt.Errorf("draw session code: %w", err)
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
}

func (r *Registry) broadcaster() Broadcaster {
	if r.broadcast == nil {
		return nopBroadcaster{}
	}
	return r.broadcast
}

// Get looks a session up by code.
func (r *Registry) Get(code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	if !ok {
		return nil, NotFoundf("game %s not found", code)
	}
	return s, nil
}

// List returns the read-only projection of every registered session,
// newest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Remove stops a session's actor (which disarms any timer) and drops
// it from the registry and the mirror.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	s, ok := r.sessions[code]
	delete(r.sessions, code)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	r.sink.Delete(code)
	log.Info().Str("code", code).Msg("session removed")
}

// Sweep removes terminal sessions older than retention and Waiting
// sessions idle past idle. Run periodically by the scheduler job.
func (r *Registry) Sweep(retention, idle time.Duration) int {
	now := r.clock.Now()
	var stale []string
	for _, sum := range r.List() {
		switch {
		case sum.Status.Terminal():
			// CreatedAt is a lower bound on the finish time; the
			// retention window only has to be generous, not exact.
			if now.Sub(sum.CreatedAt) > retention {
				stale = append(stale, sum.Code)
			}
		case sum.Status == StatusWaiting && now.Sub(sum.CreatedAt) > idle:
			stale = append(stale, sum.Code)
		}
	}
	for _, code := range stale {
		r.Remove(code)
	}
	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("swept stale sessions")
	}
	return len(stale)
}
