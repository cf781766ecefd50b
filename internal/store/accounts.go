package store

import (
	"sort"
	"sync"
	"time"

	"warden/internal/types"
)

// Account is what the simulator remembers about one user.
type Account struct {
	User         string
	TwoFactor    bool
	Balance      float64
	LastMinedAt  time.Time
	Mining       bool
	Warnings     int
	Devices      map[string]*types.DeviceRecord
	CurrentHash  string
	BoostRate    float64
	SessionHours float64
}

// Accounts is the simulator's in-memory account book. Persistence is out of
// scope for the simulator, so nothing here survives a restart.
type Accounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
	// owners maps a device hash to the account that registered it first.
	owners map[string]string
	hours  float64
}

func NewAccounts(sessionHours float64) *Accounts {
	return &Accounts{
		accounts: make(map[string]*Account),
		owners:   make(map[string]string),
		hours:    sessionHours,
	}
}

// Ensure returns the account for user, creating it with 2FA enabled.
func (a *Accounts) Ensure(user string) *Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensure(user)
}

func (a *Accounts) ensure(user string) *Account {
	acct, ok := a.accounts[user]
	if !ok {
		acct = &Account{
			User:         user,
			TwoFactor:    true,
			Devices:      make(map[string]*types.DeviceRecord),
			SessionHours: a.hours,
		}
		a.accounts[user] = acct
	}
	return acct
}

// Update runs fn on the account of user under the book's lock.
func (a *Accounts) Update(user string, fn func(*Account) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.ensure(user))
}

// Owner reports which account first registered the device hash.
func (a *Accounts) Owner(hash string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.owners[hash]
	return u, ok
}

// Register records hash as the current device of user. It reports false
// without changes when the account already holds max other devices.
func (a *Accounts) Register(user, hash, deviceType string, max int, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := a.ensure(user)
	if d, ok := acct.Devices[hash]; ok {
		d.LastSeen = now
		acct.CurrentHash = hash
		return true
	}
	if len(acct.Devices) >= max {
		return false
	}
	acct.Devices[hash] = &types.DeviceRecord{
		FingerprintHash: hash,
		DisplayID:       displayID(hash),
		DeviceType:      deviceType,
		LastSeen:        now,
	}
	acct.CurrentHash = hash
	if _, ok := a.owners[hash]; !ok {
		a.owners[hash] = user
	}
	return true
}

// HasDevice reports whether hash is registered to user.
func (a *Accounts) HasDevice(user, hash string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.ensure(user).Devices[hash]
	return ok
}

// Snapshot returns a copy of the account of user without its devices.
func (a *Accounts) Snapshot(user string) Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := *a.ensure(user)
	acct.Devices = nil
	return acct
}

// DeviceCount is the number of devices registered to user.
func (a *Accounts) DeviceCount(user string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ensure(user).Devices)
}

// Devices lists the devices of user, most recently seen first.
func (a *Accounts) Devices(user string) []types.DeviceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := a.ensure(user)
	out := make([]types.DeviceRecord, 0, len(acct.Devices))
	for _, d := range acct.Devices {
		rec := *d
		rec.IsCurrentDevice = d.FingerprintHash == acct.CurrentHash
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// RemoveDevice deletes a device other than the current one.
func (a *Accounts) RemoveDevice(user, hash string) (removed, current bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := a.ensure(user)
	if hash == acct.CurrentHash {
		return false, true
	}
	if _, ok := acct.Devices[hash]; !ok {
		return false, false
	}
	delete(acct.Devices, hash)
	if a.owners[hash] == user {
		delete(a.owners, hash)
	}
	return true, false
}

func displayID(hash string) string {
	if len(hash) > 8 {
		return "device-" + hash[:8]
	}
	return "device-" + hash
}
