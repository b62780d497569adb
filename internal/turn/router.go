package turn

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

// DefaultTurnDeadline bounds a single generator invocation.
const DefaultTurnDeadline = 5 * time.Minute

// Recorder receives every accepted fragment for conversation bookkeeping.
type Recorder interface {
	Record(role Role, content string)
}

// Sink receives the user-facing messages a turn produces.
type Sink interface {
	Deliver(ctx context.Context, msg store.OutboundMessage) error
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Generator Generator
	// Marker is the termination marker scanned for in finalizer output.
	Marker string
	// Deadline caps one generator invocation end to end.
	Deadline time.Duration
	// Filter, when set, is applied to responder content before delivery.
	Filter func(string) string
	Logger *slog.Logger
}

// Router invokes the generator once per coalesced turn and relays its
// stream. All dedup and ordering state is scoped to a single RunTurn call,
// so one Router is safely shared across sessions.
type Router struct {
	generator Generator
	marker    string
	deadline  time.Duration
	filter    func(string) string
	logger    *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultTurnDeadline
	}
	if cfg.Filter == nil {
		cfg.Filter = func(s string) string { return s }
	}
	return &Router{
		generator: cfg.Generator,
		marker:    cfg.Marker,
		deadline:  cfg.Deadline,
		filter:    cfg.Filter,
		logger:    cfg.Logger,
	}
}

// RunTurn hands the coalesced input to the generator and relays its stream.
// It returns true when the accumulated finalizer output contained the
// termination marker. Guarantees, each scoped to this invocation:
//   - repeated identical content from the same role is suppressed;
//   - no responder fragment is released before a planner fragment has been
//     observed (early responder fragments are parked and flushed when the
//     first planner fragment arrives);
//   - the initiating user fragment is surfaced at most once.
func (r *Router) RunTurn(ctx context.Context, sess SessionContext, input string, rec Recorder, sink Sink) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	stream, err := r.generator.GenerateTurn(ctx, sess, input)
	if err != nil {
		return false, fmt.Errorf("start turn for %s: %w", sess.SessionKey, err)
	}

	var (
		seen        = map[Role]map[uint64]struct{}{RolePlanner: {}, RoleResponder: {}}
		userSeen    bool
		plannerSeen bool
		pending     []string
		finalizer   strings.Builder
		finished    bool
	)

	deliver := func(content string) error {
		return sink.Deliver(ctx, store.OutboundMessage{
			Phone:   sess.Phone,
			Msg:     r.filter(content),
			ChatKey: sess.SessionKey,
		})
	}

	for frag := range stream.Fragments {
		content := strings.TrimSpace(frag.Content)
		if content == "" {
			continue
		}
		if !frag.Role.Known() {
			r.logger.Warn("dropping fragment with unknown role",
				slog.String("session", sess.SessionKey),
				slog.String("role", string(frag.Role)))
			continue
		}

		switch frag.Role {
		case RoleUser:
			if userSeen {
				continue
			}
			userSeen = true
			rec.Record(RoleUser, content)

		case RolePlanner:
			if duplicate(seen[RolePlanner], content) {
				continue
			}
			rec.Record(RolePlanner, content)
			if !plannerSeen {
				plannerSeen = true
				for _, parked := range pending {
					if err := deliver(parked); err != nil {
						return false, err
					}
				}
				pending = nil
			}

		case RoleResponder:
			if duplicate(seen[RoleResponder], content) {
				continue
			}
			rec.Record(RoleResponder, content)
			if !plannerSeen {
				pending = append(pending, content)
				continue
			}
			if err := deliver(content); err != nil {
				return false, err
			}

		case RoleFinalizer:
			rec.Record(RoleFinalizer, content)
			finalizer.WriteString(content)
			finalizer.WriteString("\n")
			if r.marker != "" && strings.Contains(strings.ToUpper(finalizer.String()), strings.ToUpper(r.marker)) {
				finished = true
			}
		}

		if finished {
			cancel()
			break
		}
	}

	if err := stream.Err(); err != nil && !finished {
		return false, fmt.Errorf("turn stream for %s: %w", sess.SessionKey, err)
	}

	r.logger.Debug("turn complete",
		slog.String("session", sess.SessionKey),
		slog.Bool("finished", finished))
	return finished, nil
}

// duplicate records the content hash in the role's set and reports whether
// it was already present.
func duplicate(set map[uint64]struct{}, content string) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	sum := h.Sum64()
	if _, ok := set[sum]; ok {
		return true
	}
	set[sum] = struct{}{}
	return false
}
