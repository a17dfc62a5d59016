// Package verify implements phone verification with one-time passcodes.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"qme/internal/messaging"
	"qme/internal/models"
	"qme/internal/store"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultDigits = 6
	DefaultTTL    = 5 * time.Minute
)

type Store interface {
	store.ChallengeStore
	store.GuestStore
}

type Options struct {
	Digits    int
	HashCost  int
	TTL       time.Duration
	Sender    messaging.Sender
	Templates messaging.Templates
	Now       func() time.Time
}

// Gate issues and checks passcodes. Operations on one guest are serialized so
// a check never races the issue that supersedes its code.
type Gate struct {
	store     Store
	sender    messaging.Sender
	templates messaging.Templates
	digits    int
	cost      int
	ttl       time.Duration
	now       func() time.Time
	locks     *keyedMutex
	tracer    trace.Tracer
}

func NewGate(st Store, opts Options) *Gate {
	digits := opts.Digits
	if digits <= 0 {
		digits = DefaultDigits
	}
	cost := opts.HashCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	templates := opts.Templates
	if templates == nil {
		templates = messaging.DefaultTemplates()
	}
	return &Gate{
		store:     st,
		sender:    opts.Sender,
		templates: templates,
		digits:    digits,
		cost:      cost,
		ttl:       ttl,
		now:       now,
		locks:     newKeyedMutex(),
		tracer:    otel.Tracer("qme/verify"),
	}
}

// IssueChallenge replaces any pending code for the guest with a fresh one and
// texts it to the guest's phone. Delivery failures are logged, not returned.
func (g *Gate) IssueChallenge(ctx context.Context, guestID string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "verify.IssueChallenge", trace.WithAttributes(attribute.String("guest.id", guestID)))
	defer span.End()

	guest, err := g.store.GetGuest(ctx, guestID)
	if err != nil {
		return "", store.Wrap(err, "get guest")
	}

	code, err := g.issue(ctx, guestID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if g.sender != nil {
		message := g.templates.Render(messaging.TemplatePasscode, map[string]string{
			"code":       code,
			"guest_name": guest.Name,
		})
		if err := g.sender.Send(ctx, message, guest.Phone); err != nil {
			log.Error().Err(err).Str("guest_id", guestID).Msg("passcode sms failed")
		}
	}
	return code, nil
}

func (g *Gate) issue(ctx context.Context, guestID string) (string, error) {
	unlock := g.locks.Lock(guestID)
	defer unlock()

	code, err := generateCode(g.digits)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.cost)
	if err != nil {
		return "", err
	}
	now := g.now()
	challenge := models.Challenge{
		GuestID:   guestID,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.store.SaveChallenge(ctx, challenge); err != nil {
		return "", store.Wrap(err, "save challenge")
	}
	return code, nil
}

// CheckChallenge reports whether code matches the guest's pending challenge.
// The challenge is consumed by any attempt, matching or not.
func (g *Gate) CheckChallenge(ctx context.Context, guestID, code string) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "verify.CheckChallenge", trace.WithAttributes(attribute.String("guest.id", guestID)))
	defer span.End()

	unlock := g.locks.Lock(guestID)
	defer unlock()

	challenge, err := g.store.GetChallenge(ctx, guestID)
	if errors.Is(err, store.ErrChallengeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap(err, "get challenge")
	}
	if err := g.store.DeleteChallenge(ctx, guestID); err != nil && !errors.Is(err, store.ErrChallengeNotFound) {
		return false, store.Wrap(err, "delete challenge")
	}

	if challenge.Expired(g.now()) {
		return false, nil
	}
	if !g.wellFormed(code) {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) == nil, nil
}

func (g *Gate) wellFormed(code string) bool {
	if len(code) != g.digits {
		return false
	}
	return strings.Trim(code, "0123456789") == ""
}

func generateCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
