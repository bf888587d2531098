package canarystore

import (
	"sort"
	"strings"
	"sync"
)

// AccountRegistry maps account names to account records.
//
// Reads far outnumber writes and accounts are independent of each other, so the
// registry uses a sync.Map: replacing or removing one name never blocks lookups
// of another and there is no cross-key locking.
type AccountRegistry struct {
	accounts sync.Map // name -> Account
	logger   Logger
}

// NewAccountRegistry creates an empty registry with a no-op logger
func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{logger: &NoOpLogger{}}
}

// NewAccountRegistryWithLogger creates an empty registry that logs registrations
func NewAccountRegistryWithLogger(logger Logger) *AccountRegistry {
	return &AccountRegistry{logger: logger}
}

// Save inserts or replaces the account stored under account.Name().
// The previous record, if any, is returned; records are replaced whole, never merged.
func (r *AccountRegistry) Save(account Account) (Account, bool) {
	prev, loaded := r.accounts.Swap(account.Name(), account)
	r.logger.Info("registered account",
		"account", account.Name(),
		"type", account.Type(),
		"supportedTypes", account.SupportedTypes(),
		"replaced", loaded,
	)
	if !loaded {
		return nil, false
	}
	return prev.(Account), true
}

// Delete removes the named account. It reports whether an account was removed.
func (r *AccountRegistry) Delete(name string) bool {
	_, loaded := r.accounts.LoadAndDelete(name)
	return loaded
}

// FindByName returns the account registered under name.
func (r *AccountRegistry) FindByName(name string) (Account, bool) {
	v, ok := r.accounts.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Account), true
}

// RequireByName returns the account registered under name or ErrNotFound.
func (r *AccountRegistry) RequireByName(name string) (Account, error) {
	account, ok := r.FindByName(name)
	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"account": name,
			"reason":  "unable to resolve account",
		})
	}
	return account, nil
}

// All returns every registered account ordered by name.
func (r *AccountRegistry) All() []Account {
	var all []Account
	r.accounts.Range(func(_, v any) bool {
		all = append(all, v.(Account))
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

// AllWithCapability returns every account tagged with capability, ordered by name.
func (r *AccountRegistry) AllWithCapability(capability Capability) []Account {
	var matched []Account
	for _, account := range r.All() {
		if Supports(account, capability) {
			matched = append(matched, account)
		}
	}
	return matched
}

// ResolveOrFirstOfCapability resolves an optional account parameter.
// A blank name picks an account tagged with capability (ErrNotFound if there is none);
// any other name behaves exactly like RequireByName.
func (r *AccountRegistry) ResolveOrFirstOfCapability(name string, capability Capability) (Account, error) {
	if strings.TrimSpace(name) != "" {
		return r.RequireByName(name)
	}

	candidates := r.AllWithCapability(capability)
	if len(candidates) == 0 {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"capability": capability,
			"reason":     "unable to resolve account of type",
		})
	}
	return candidates[0], nil
}

// Len returns the number of registered accounts.
func (r *AccountRegistry) Len() int {
	n := 0
	r.accounts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
