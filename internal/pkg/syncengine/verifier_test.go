package syncengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signPayload(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, 5*time.Minute)
	v.Now = func() time.Time { return now }
	return v
}

func validEventPayload() []byte {
	return []byte(`{
		"id": "ev_1",
		"type": "subscription.updated",
		"created": 1713000000,
		"data": {
			"subscription": {
				"id": "sub_1",
				"customer": "cus_1",
				"status": "active",
				"plan": "pro",
				"interval": "month",
				"amount": 1999,
				"currency": "usd",
				"current_period_start": 1712900000,
				"current_period_end": 1715500000,
				"cancel_at_period_end": false
			}
		}
	}`)
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()
	header := signPayload(testSecret, now.Unix(), payload)

	ev, err := newTestVerifier(now).Verify(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "ev_1", ev.EventID)
	assert.Equal(t, "subscription.updated", ev.EventType)
	assert.Equal(t, int64(1713000000), ev.OccurredAt.Unix())
	assert.Equal(t, "sub_1", ev.Subscription.ID)
	assert.Equal(t, "cus_1", ev.Subscription.Customer)
	assert.Equal(t, payload, ev.Raw)
}

func TestVerify_TamperedPayload(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()
	header := signPayload(testSecret, now.Unix(), payload)

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '

	_, err := newTestVerifier(now).Verify(tampered, header)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_MissingHeader(t *testing.T) {
	now := time.Unix(1713000010, 0)
	_, err := newTestVerifier(now).Verify(validEventPayload(), "")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()
	header := signPayload("whsec_other", now.Unix(), payload)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()
	sent := now.Add(-10 * time.Minute).Unix()
	header := signPayload(testSecret, sent, payload)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_FutureTimestamp(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()
	sent := now.Add(10 * time.Minute).Unix()
	header := signPayload(testSecret, sent, payload)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_MalformedJSON(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := []byte(`{"id": "ev_1", "type":`)
	header := signPayload(testSecret, now.Unix(), payload)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestVerify_MissingSubscriptionID(t *testing.T) {
	now := time.Unix(1713000010, 0)
	payload := []byte(`{"id": "ev_1", "type": "subscription.updated", "created": 1713000000, "data": {"subscription": {"status": "active"}}}`)
	header := signPayload(testSecret, now.Unix(), payload)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestVerify_SecondSignatureMatches(t *testing.T) {
	// Secret rotation: the provider signs with old and new secrets at once.
	now := time.Unix(1713000010, 0)
	payload := validEventPayload()

	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(payload)
	good := hex.EncodeToString(mac.Sum(nil))
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), "00ff00ff", good)

	_, err := newTestVerifier(now).Verify(payload, header)
	assert.NoError(t, err)
}

func TestVerify_NoSecretConfigured(t *testing.T) {
	now := time.Unix(1713000010, 0)
	v := NewVerifier("", time.Minute)
	v.Now = func() time.Time { return now }

	payload := validEventPayload()
	_, err := v.Verify(payload, signPayload("", now.Unix(), payload))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}
