package matcher

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
)

// Factors breaks the combined confidence down per signal for logging and
// operator inspection.
type Factors struct {
	Subject   float64 `json:"subject"`
	Recipient float64 `json:"recipient"`
	Time      float64 `json:"time"`
	Thread    float64 `json:"thread"`
}

// MatchResult is an accepted match between an inbound message and one
// tracked email.
type MatchResult struct {
	TrackedEmailID uuid.UUID
	Confidence     float64
	Factors        Factors
	IsAutoReply    bool
}

// Matcher scores inbound messages against open tracked emails. A result is
// returned only when the combined confidence clears the acceptance
// threshold: a wrong match cancels follow-ups on the wrong email, so false
// negatives are the cheaper failure.
type Matcher struct {
	cfg config.MatcherConfig
}

func New(cfg config.MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

var subjectPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "antw:"}

var autoReplyMarkers = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"autoreply",
	"away from the office",
	"on vacation",
	"delivery status notification",
	"undeliverable",
}

var autoReplyHeaders = map[string][]string{
	"x-autoreply":    {""},
	"x-autorespond":  {""},
	"auto-submitted": {"auto-replied", "auto-generated"},
	"precedence":     {"auto_reply", "bulk", "junk"},
}

// Match scores the inbound message against every candidate and returns the
// best match at or above the threshold, or nil when nothing clears it.
func (m *Matcher) Match(inbound *model.ProviderMessage, candidates []*model.TrackedEmail) *MatchResult {
	if inbound == nil || len(candidates) == 0 {
		return nil
	}

	isAutoReply := m.DetectAutoReply(inbound)

	var best *MatchResult
	for _, candidate := range candidates {
		if !candidate.IsOpen() {
			continue
		}
		// Replies cannot precede the send.
		if inbound.ReceivedAt.Before(candidate.SentAt) {
			continue
		}

		confidence, factors := m.score(inbound, candidate)
		if confidence < m.cfg.Threshold {
			continue
		}
		if best == nil || confidence > best.Confidence {
			best = &MatchResult{
				TrackedEmailID: candidate.ID,
				Confidence:     confidence,
				Factors:        factors,
				IsAutoReply:    isAutoReply,
			}
		}
	}
	return best
}

func (m *Matcher) score(inbound *model.ProviderMessage, candidate *model.TrackedEmail) (float64, Factors) {
	var f Factors

	// Thread ids matching is a strong enough signal to override the
	// weighted sum entirely.
	if inbound.ConversationID != "" && candidate.ConversationID != nil &&
		inbound.ConversationID == *candidate.ConversationID {
		f.Thread = 1.0
		return 1.0, f
	}

	f.Subject = subjectSimilarity(inbound.Subject, candidate.Subject)
	f.Recipient = recipientScore(inbound.From, candidate.Recipients)
	f.Time = m.timeProximity(inbound.ReceivedAt, candidate.SentAt)

	confidence := f.Subject*m.cfg.SubjectWeight +
		f.Recipient*m.cfg.RecipientWeight +
		f.Time*m.cfg.TimeWeight
	return confidence, f
}

// DetectAutoReply applies subject and header heuristics for out-of-office
// and bounce style messages.
func (m *Matcher) DetectAutoReply(msg *model.ProviderMessage) bool {
	subject := strings.ToLower(msg.Subject)
	for _, marker := range autoReplyMarkers {
		if strings.Contains(subject, marker) {
			return true
		}
	}

	for name, values := range autoReplyHeaders {
		got, ok := headerValue(msg.InternetHeaders, name)
		if !ok {
			continue
		}
		for _, want := range values {
			if want == "" || strings.EqualFold(got, want) {
				return true
			}
		}
	}
	return false
}

// CountAutoReplies reports whether auto-replies should trigger state
// transitions. Default is to record them without transitioning.
func (m *Matcher) CountAutoReplies() bool {
	return m.cfg.CountAutoReplies
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// subjectSimilarity is 1 - normalized Levenshtein distance over the
// prefix-stripped subjects.
func subjectSimilarity(a, b string) float64 {
	a = NormalizeSubject(a)
	b = NormalizeSubject(b)
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	dist := levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0 - float64(dist)/float64(longest)
}

// NormalizeSubject lowercases, strips reply/forward prefixes and collapses
// whitespace.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := false
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

func recipientScore(sender string, recipients []string) float64 {
	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, r := range recipients {
		if strings.ToLower(strings.TrimSpace(r)) == sender {
			return 1.0
		}
	}
	return 0
}

// timeProximity decays linearly from 1 at the send time to 0 at the end of
// the configured window.
func (m *Matcher) timeProximity(receivedAt, sentAt time.Time) float64 {
	elapsed := receivedAt.Sub(sentAt)
	if elapsed < 0 {
		return 0
	}
	if elapsed >= m.cfg.TimeWindow {
		return 0
	}
	return 1.0 - float64(elapsed)/float64(m.cfg.TimeWindow)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
