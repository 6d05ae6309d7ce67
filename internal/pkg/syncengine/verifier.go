package syncengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/subsyncd/subsyncd/internal/pkg/env"
)

const defaultToleranceSeconds = 300

var validate = validator.New()

// Verifier authenticates raw webhook payloads. The signature header carries
// the delivery timestamp and one or more HMAC-SHA256 signatures over
// "<t>.<payload>", e.g. "t=1713000000,v1=deadbeef...". The raw bytes must be
// passed exactly as received; any re-serialization breaks the MAC.
type Verifier struct {
	Secret    []byte
	Tolerance time.Duration

	Now func() time.Time
}

// NewVerifier creates a verifier with the given shared secret and replay
// tolerance window. A non-positive tolerance falls back to the default.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = defaultToleranceSeconds * time.Second
	}
	return &Verifier{
		Secret:    []byte(secret),
		Tolerance: tolerance,
		Now:       time.Now,
	}
}

// NewVerifierFromEnv builds a verifier from BILLING_WEBHOOK_SECRET and
// BILLING_WEBHOOK_TOLERANCE_SECONDS.
func NewVerifierFromEnv() *Verifier {
	tolerance, err := strconv.Atoi(env.GetEnv("BILLING_WEBHOOK_TOLERANCE_SECONDS", ""))
	if err != nil || tolerance <= 0 {
		tolerance = defaultToleranceSeconds
	}
	return NewVerifier(env.GetEnv("BILLING_WEBHOOK_SECRET", ""), time.Duration(tolerance)*time.Second)
}

// Verify authenticates and decodes one inbound event. Failure modes map to
// ErrSignatureMismatch, ErrStaleTimestamp and ErrMalformedPayload; all are
// terminal for the delivery.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*VerifiedEvent, error) {
	if len(v.Secret) == 0 {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrSignatureMismatch)
	}

	ts, candidates, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, v.Secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	now := v.now()
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > v.Tolerance || sent.Sub(now) > v.Tolerance {
		return nil, fmt.Errorf("%w: sent at %s", ErrStaleTimestamp, sent.UTC().Format(time.RFC3339))
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(envelope.Data.Subscription.ID) == "" {
		return nil, fmt.Errorf("%w: missing subscription id", ErrMalformedPayload)
	}

	return &VerifiedEvent{
		EventID:      envelope.ID,
		EventType:    strings.ToLower(strings.TrimSpace(envelope.Type)),
		OccurredAt:   time.Unix(envelope.Created, 0).UTC(),
		Subscription: envelope.Data.Subscription,
		Raw:          payload,
	}, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]". Multiple v1
// entries are allowed so secrets can be rotated without dropping deliveries.
func parseSignatureHeader(header string) (int64, [][]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignatureMismatch)
	}

	var ts int64
	var haveTS bool
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp in signature header", ErrSignatureMismatch)
			}
			ts = parsed
			haveTS = true
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				continue
			}
			sigs = append(sigs, decoded)
		}
	}
	if !haveTS || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: signature header missing t or v1", ErrSignatureMismatch)
	}
	return ts, sigs, nil
}
