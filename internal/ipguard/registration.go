package ipguard

import (
	"context"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/pkg/errors"
)

// RegistrationThrottle caps how many accounts may be created from one
// address over the life of the store. Completed registrations are never
// forgotten, and the unresolvable address is neither capped nor counted.
type RegistrationThrottle struct {
	store    Store
	maxPerIP int
}

func NewRegistrationThrottle(store Store, maxPerIP int) *RegistrationThrottle {
	return &RegistrationThrottle{
		store:    store,
		maxPerIP: maxPerIP,
	}
}

// MaxPerIP returns the cap
func (t *RegistrationThrottle) MaxPerIP() int {
	return t.maxPerIP
}

func (t *RegistrationThrottle) CanRegister(ctx context.Context, ip string) (bool, error) {
	if ip == pkghttp.UnknownIP {
		return true, nil
	}
	n, err := t.store.RegistrationCount(ctx, ip)
	if err != nil {
		return false, errors.Wrap(err, "get registration count")
	}
	return n < t.maxPerIP, nil
}

func (t *RegistrationThrottle) RecordRegistration(ctx context.Context, ip string) error {
	if ip == pkghttp.UnknownIP {
		return nil
	}
	_, err := t.store.IncrRegistrations(ctx, ip)
	return errors.Wrap(err, "record registration")
}

// Count returns the registrations recorded for ip
func (t *RegistrationThrottle) Count(ctx context.Context, ip string) (int, error) {
	n, err := t.store.RegistrationCount(ctx, ip)
	return n, errors.Wrap(err, "get registration count")
}

// Admit runs create only if ip is under the cap. The slot is reserved in the
// store before create runs and handed back if create fails, so instances
// sharing a store cannot overshoot the cap between them.
func (t *RegistrationThrottle) Admit(ctx context.Context, ip string, create func() error) error {
	if ip == pkghttp.UnknownIP {
		return create()
	}

	ok, err := t.store.ReserveRegistration(ctx, ip, t.maxPerIP)
	if err != nil {
		return errors.Wrap(err, "reserve registration")
	}
	if !ok {
		return models.ErrRegistrationLimit
	}

	if err := create(); err != nil {
		// A slot whose release fails stays consumed
		_ = t.store.ReleaseRegistration(context.WithoutCancel(ctx), ip)
		return err
	}
	return nil
}
