package verification

import "sync"

// Vault holds at most one token between the second-factor step and the claim.
type Vault struct {
	mu    sync.Mutex
	token *Token
}

func (v *Vault) Put(t Token) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.token = &t
}

// Take hands out the stored token and empties the vault whatever the caller
// does with it next.
func (v *Vault) Take() (Token, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.token == nil {
		return Token{}, false
	}
	t := *v.token
	v.token = nil
	return t, true
}

func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.token = nil
}

func (v *Vault) Held() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token != nil
}
