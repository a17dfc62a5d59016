package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/google/uuid"
)

const (
	maxNameLength  = 30
	maxPhoneLength = 20
	minPhoneDigits = 7
)

// Register returns the guest owning phone, creating one when the number is new.
func (g *Gate) Register(ctx context.Context, name, phone string) (models.Guest, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if err := validateGuest(name, phone); err != nil {
		return models.Guest{}, err
	}

	unlock := g.locks.Lock("phone:" + phone)
	defer unlock()

	existing, err := g.store.GetGuestByPhone(ctx, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrGuestNotFound) {
		return models.Guest{}, store.Wrap(err, "get guest by phone")
	}

	guest := models.Guest{
		GuestID:   uuid.NewString(),
		Name:      name,
		Phone:     phone,
		CreatedAt: g.now().Truncate(time.Microsecond),
	}
	if err := g.store.CreateGuest(ctx, guest); err != nil {
		return models.Guest{}, store.Wrap(err, "create guest")
	}
	return guest, nil
}

func validateGuest(name, phone string) error {
	var problems []string
	if name == "" {
		problems = append(problems, "name is required")
	} else if utf8.RuneCountInString(name) > maxNameLength {
		problems = append(problems, fmt.Sprintf("name is too long (%d characters max)", maxNameLength))
	}
	switch {
	case phone == "":
		problems = append(problems, "phone is required")
	case len(phone) > maxPhoneLength:
		problems = append(problems, fmt.Sprintf("phone is too long (%d characters max)", maxPhoneLength))
	case !strings.HasPrefix(phone, "+"):
		problems = append(problems, "phone must start with '+'")
	case len(phone)-1 < minPhoneDigits || strings.Trim(phone[1:], "0123456789") != "":
		problems = append(problems, "phone must be '+' followed by digits")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, " | "))
	}
	return nil
}
