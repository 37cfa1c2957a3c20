package faults

import (
	"context"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const historyLimit = 1000

// classifierGroups are matched in order against the lowercased fault text;
// the first group with a hit wins.
var classifierGroups = []struct {
	faultType Type
	keywords  []string
}{
	{TypeNetwork, []string{"network", "dns", "connection refused", "unreachable", "timeout", "dial tcp"}},
	{TypeWebSocket, []string{"websocket", "socket"}},
	{TypeCanister, []string{"canister", "replica", "ingress", "reject"}},
	{TypeAuthentication, []string{"auth", "unauthorized", "identity", "session expired", "401", "403"}},
	{TypeValidation, []string{"invalid", "validation", "malformed", "required field"}},
	{TypeRateLimit, []string{"rate limit", "too many requests", "429", "throttl"}},
	{TypeCycles, []string{"cycles", "insufficient funds", "out of cycles"}},
	{TypeMemory, []string{"memory", "allocation", "heap"}},
	{TypeSubnet, []string{"subnet", "consensus"}},
}

var digitsRe = regexp.MustCompile(`\d+`)

// Handler classifies faults into Reports and keeps a bounded history for
// dedup and trend reporting. All methods are safe for concurrent use.
type Handler struct {
	logger  *slog.Logger
	actions ActionFuncs

	mu      sync.Mutex
	history []*Report
	subs    map[uuid.UUID]func(*Report)

	now func() time.Time
}

// ActionFuncs supplies the invocables wired into generated recovery
// actions. Any field may be nil; the action is still suggested, just not
// runnable by the system.
type ActionFuncs struct {
	Retry     func(ctx context.Context) error
	Reconnect func(ctx context.Context) error
	Fallback  func(ctx context.Context) error
	Refresh   func(ctx context.Context) error
}

// New creates a Handler.
func New(logger *slog.Logger, actions ActionFuncs) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		actions: actions,
		subs:    make(map[uuid.UUID]func(*Report)),
		now:     time.Now,
	}
}

// OnReport registers a subscriber invoked with every report Handle
// produces. The returned func unregisters it.
func (h *Handler) OnReport(fn func(*Report)) func() {
	h.mu.Lock()
	id := uuid.New()
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Handle turns any fault plus context into a fully populated Report.
// It is total: it never panics and never returns nil, even for a nil error.
func (h *Handler) Handle(err error, fctx Context) (report *Report) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("fault handler panicked", "panic", r)
			report = h.fallbackReport(fctx)
		}
	}()

	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	faultType := classify(message)
	severity := severityFor(faultType, fctx.Operation)
	category := categoryFor(faultType)
	retryable := retryableFor(faultType)

	now := h.now()
	r := &Report{
		ID:        uuid.New(),
		Type:      faultType,
		Message:   message,
		Retryable: retryable,
		Timestamp: now,
		Severity:  severity,
		Category:  category,
		Context:   fctx,
		Stack:     string(debug.Stack()),
		Recovery:  h.recoveryFor(faultType, severity, retryable),
		Analytics: Analytics{
			Impact:          impactFor(severity),
			FirstOccurrence: now,
			LastOccurrence:  now,
		},
	}

	h.mu.Lock()
	r.Analytics.Frequency = 1
	for _, prev := range h.history {
		if prev.Type == r.Type && prev.Message == r.Message {
			r.Analytics.Frequency++
			if prev.Timestamp.Before(r.Analytics.FirstOccurrence) {
				r.Analytics.FirstOccurrence = prev.Timestamp
			}
		}
	}
	h.history = append(h.history, r)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}
	subs := make([]func(*Report), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(r)
	}

	h.logger.Warn("fault classified",
		"type", r.Type,
		"severity", r.Severity,
		"category", r.Category,
		"component", fctx.Component,
		"operation", fctx.Operation,
		"frequency", r.Analytics.Frequency,
		"message", message,
	)

	return r
}

// Fingerprint returns a stable grouping key for a report. Digits in the
// message are normalized so errors differing only by an embedded ID
// collapse into one group.
func Fingerprint(r *Report) string {
	normalized := digitsRe.ReplaceAllString(r.Message, "#")
	return strings.Join([]string{
		string(r.Type),
		normalized,
		r.Context.Component,
		r.Context.Operation,
	}, ":")
}

// History returns a copy of the retained reports, oldest first.
func (h *Handler) History() []*Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Report, len(h.history))
	copy(out, h.history)
	return out
}

// Stats aggregates the history by type, severity, and category.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Total:      len(h.history),
		ByType:     make(map[Type]int),
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
	}

	counts := make(map[string]int)
	for _, r := range h.history {
		s.ByType[r.Type]++
		s.BySeverity[r.Severity]++
		s.ByCategory[r.Category]++
		counts[Fingerprint(r)]++
	}
	for fp, n := range counts {
		if n > 1 {
			s.Recurring = append(s.Recurring, fp)
		}
	}
	return s
}

// Trends buckets the last 24 hours of history by hour and type.
func (h *Handler) Trends() []TrendBucket {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	cutoff := now.Add(-24 * time.Hour)

	buckets := make(map[time.Time]*TrendBucket)
	for _, r := range h.history {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		hour := r.Timestamp.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &TrendBucket{Hour: hour, ByType: make(map[Type]int)}
			buckets[hour] = b
		}
		b.Total++
		b.ByType[r.Type]++
	}

	out := make([]TrendBucket, 0, len(buckets))
	for hr := cutoff.Truncate(time.Hour); !hr.After(now); hr = hr.Add(time.Hour) {
		if b, ok := buckets[hr]; ok {
			out = append(out, *b)
		}
	}
	return out
}

// fallbackReport is the minimal valid report for when classification
// itself fails. Still carries a recovery path.
func (h *Handler) fallbackReport(fctx Context) *Report {
	now := h.now()
	return &Report{
		ID:        uuid.New(),
		Type:      TypeUnknown,
		Message:   "unclassifiable error",
		Timestamp: now,
		Severity:  SeverityMedium,
		Category:  CategorySystem,
		Context:   fctx,
		Recovery:  h.recoveryFor(TypeUnknown, SeverityMedium, false),
		Analytics: Analytics{Frequency: 1, Impact: impactFor(SeverityMedium), FirstOccurrence: now, LastOccurrence: now},
	}
}

// classify assigns exactly one taxonomy tag; unmatched text is unknown.
func classify(message string) Type {
	text := strings.ToLower(message)
	for _, group := range classifierGroups {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.faultType
			}
		}
	}
	return TypeUnknown
}

// severityFor is the deterministic (type, operation) rule table.
func severityFor(t Type, operation string) Severity {
	op := strings.ToLower(operation)
	paymentOp := strings.Contains(op, "payment") || strings.Contains(op, "transfer")

	switch t {
	case TypeCanister:
		if paymentOp {
			return SeverityCritical
		}
		return SeverityHigh
	case TypeAuthentication:
		return SeverityHigh
	case TypeNetwork, TypeWebSocket, TypeRateLimit:
		return SeverityMedium
	case TypeValidation:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func categoryFor(t Type) Category {
	switch t {
	case TypeValidation, TypeAuthentication:
		return CategoryUser
	case TypeNetwork, TypeWebSocket, TypeRateLimit:
		return CategoryNetwork
	case TypeCanister, TypeCycles, TypeSubnet:
		return CategoryBlockchain
	default:
		return CategorySystem
	}
}

func retryableFor(t Type) bool {
	switch t {
	case TypeNetwork, TypeWebSocket, TypeRateLimit, TypeCanister, TypeSubnet:
		return true
	}
	return false
}

func impactFor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "service degraded"
	case SeverityHigh:
		return "feature unavailable"
	case SeverityMedium:
		return "intermittent"
	default:
		return "cosmetic"
	}
}
