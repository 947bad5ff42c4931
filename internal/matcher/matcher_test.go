package matcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
)

func testConfig() config.MatcherConfig {
	return config.MatcherConfig{
		SubjectWeight:   0.35,
		RecipientWeight: 0.30,
		TimeWeight:      0.20,
		ThreadWeight:    0.15,
		Threshold:       0.8,
		TimeWindow:      7 * 24 * time.Hour,
	}
}

func trackedEmail(subject string, recipients []string, sentAt time.Time) *model.TrackedEmail {
	return &model.TrackedEmail{
		ID:            uuid.New(),
		AccountID:     uuid.New(),
		Subject:       subject,
		SenderAddress: "sales@example.com",
		Recipients:    recipients,
		SentAt:        sentAt,
		Status:        model.TrackingStatusSent,
	}
}

func TestMatchAcceptsDirectReply(t *testing.T) {
	m := New(testConfig())
	sentAt := time.Now().Add(-2 * time.Hour)
	candidate := trackedEmail("Quarterly pricing proposal", []string{"buyer@example.com"}, sentAt)

	inbound := &model.ProviderMessage{
		ID:         "reply-1",
		Subject:    "Re: Quarterly pricing proposal",
		From:       "buyer@example.com",
		ReceivedAt: sentAt.Add(2 * time.Hour),
	}

	result := m.Match(inbound, []*model.TrackedEmail{candidate})
	require.NotNil(t, result)
	assert.Equal(t, candidate.ID, result.TrackedEmailID)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
	assert.InDelta(t, 1.0, result.Factors.Subject, 0.001)
	assert.Equal(t, 1.0, result.Factors.Recipient)
	assert.False(t, result.IsAutoReply)
}

func TestMatchThreadIDShortCircuits(t *testing.T) {
	m := New(testConfig())
	threadID := "AAQkAD-thread-1"
	sentAt := time.Now().Add(-24 * time.Hour)

	candidate := trackedEmail("Original subject", []string{"buyer@example.com"}, sentAt)
	candidate.ConversationID = &threadID

	// Unrelated subject and sender, but same conversation id.
	inbound := &model.ProviderMessage{
		ID:             "reply-2",
		ConversationID: threadID,
		Subject:        "completely different",
		From:           "someone-else@example.com",
		ReceivedAt:     sentAt.Add(time.Hour),
	}

	result := m.Match(inbound, []*model.TrackedEmail{candidate})
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, 1.0, result.Factors.Thread)
}

func TestMatchRejectsBelowThreshold(t *testing.T) {
	m := New(testConfig())
	sentAt := time.Now().Add(-time.Hour)
	candidate := trackedEmail("Quarterly pricing proposal", []string{"buyer@example.com"}, sentAt)

	// Sender is not a recipient and the subject shares nothing.
	inbound := &model.ProviderMessage{
		ID:         "unrelated-1",
		Subject:    "Lunch on Friday?",
		From:       "colleague@example.com",
		ReceivedAt: sentAt.Add(30 * time.Minute),
	}

	assert.Nil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))
}

func TestMatchThresholdBoundary(t *testing.T) {
	cfg := testConfig()
	m := New(cfg)
	sentAt := time.Now()

	candidate := trackedEmail("status update", []string{"buyer@example.com"}, sentAt)

	// Perfect subject, recipient and time: 0.35 + 0.30 + 0.20 = 0.85.
	inbound := &model.ProviderMessage{
		ID:         "reply-3",
		Subject:    "RE: status update",
		From:       "buyer@example.com",
		ReceivedAt: sentAt,
	}
	require.NotNil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))

	// Without the recipient signal the score drops to 0.55 and must be
	// rejected even with perfect subject and time.
	inbound.From = "stranger@example.com"
	assert.Nil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))
}

func TestMatchAcceptsConfidenceEqualToThreshold(t *testing.T) {
	// Weights chosen to be exact in binary so the score lands precisely
	// on the threshold: 0.25 + 0.25 = 0.5.
	m := New(config.MatcherConfig{
		SubjectWeight:   0.25,
		RecipientWeight: 0.25,
		TimeWeight:      0,
		Threshold:       0.5,
		TimeWindow:      7 * 24 * time.Hour,
	})
	sentAt := time.Now().Add(-time.Hour)
	candidate := trackedEmail("status update", []string{"buyer@example.com"}, sentAt)

	inbound := &model.ProviderMessage{
		ID:         "reply-4",
		Subject:    "Re: status update",
		From:       "buyer@example.com",
		ReceivedAt: sentAt.Add(time.Minute),
	}

	// Meeting the threshold exactly is acceptance, not rejection.
	result := m.Match(inbound, []*model.TrackedEmail{candidate})
	require.NotNil(t, result)
	assert.Equal(t, 0.5, result.Confidence)

	inbound.From = "stranger@example.com"
	assert.Nil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))
}

func TestMatchSkipsRepliesBeforeSend(t *testing.T) {
	m := New(testConfig())
	sentAt := time.Now()
	candidate := trackedEmail("status update", []string{"buyer@example.com"}, sentAt)

	inbound := &model.ProviderMessage{
		ID:         "early-1",
		Subject:    "Re: status update",
		From:       "buyer@example.com",
		ReceivedAt: sentAt.Add(-time.Minute),
	}
	assert.Nil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))
}

func TestMatchPicksBestCandidate(t *testing.T) {
	m := New(testConfig())
	now := time.Now()

	older := trackedEmail("project kickoff", []string{"buyer@example.com"}, now.Add(-6*24*time.Hour))
	recent := trackedEmail("project kickoff", []string{"buyer@example.com"}, now.Add(-time.Hour))

	inbound := &model.ProviderMessage{
		ID:         "reply-4",
		Subject:    "Re: project kickoff",
		From:       "buyer@example.com",
		ReceivedAt: now,
	}

	result := m.Match(inbound, []*model.TrackedEmail{older, recent})
	require.NotNil(t, result)
	assert.Equal(t, recent.ID, result.TrackedEmailID)
}

func TestDetectAutoReplySubjectMarkers(t *testing.T) {
	m := New(testConfig())

	assert.True(t, m.DetectAutoReply(&model.ProviderMessage{Subject: "Automatic Reply: Quarterly pricing"}))
	assert.True(t, m.DetectAutoReply(&model.ProviderMessage{Subject: "Out of Office until Monday"}))
	assert.True(t, m.DetectAutoReply(&model.ProviderMessage{Subject: "Undeliverable: your message"}))
	assert.False(t, m.DetectAutoReply(&model.ProviderMessage{Subject: "Re: Quarterly pricing"}))
}

func TestDetectAutoReplyHeaders(t *testing.T) {
	m := New(testConfig())

	assert.True(t, m.DetectAutoReply(&model.ProviderMessage{
		Subject:         "Re: anything",
		InternetHeaders: map[string]string{"Auto-Submitted": "auto-replied"},
	}))
	assert.True(t, m.DetectAutoReply(&model.ProviderMessage{
		Subject:         "Re: anything",
		InternetHeaders: map[string]string{"X-Autoreply": "yes"},
	}))
	assert.False(t, m.DetectAutoReply(&model.ProviderMessage{
		Subject:         "Re: anything",
		InternetHeaders: map[string]string{"Auto-Submitted": "no"},
	}))
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeSubject("Re: Hello World"))
	assert.Equal(t, "hello world", NormalizeSubject("RE: FWD: re:  Hello   World"))
	assert.Equal(t, "hello world", NormalizeSubject("AW: Hello World"))
	assert.Equal(t, "hello", NormalizeSubject("  hello  "))
	assert.Equal(t, "", NormalizeSubject("Re:"))
}

func TestMatchIgnoresClosedCandidates(t *testing.T) {
	m := New(testConfig())
	sentAt := time.Now().Add(-time.Hour)

	candidate := trackedEmail("status update", []string{"buyer@example.com"}, sentAt)
	candidate.Status = model.TrackingStatusClosed

	inbound := &model.ProviderMessage{
		ID:         "reply-5",
		Subject:    "Re: status update",
		From:       "buyer@example.com",
		ReceivedAt: sentAt.Add(time.Minute),
	}
	assert.Nil(t, m.Match(inbound, []*model.TrackedEmail{candidate}))
}
