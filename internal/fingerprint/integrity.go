package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
)

// ManifestVersion is bumped whenever the set of collector entry points changes.
const ManifestVersion = "warden-collectors/v1"

// Manifest lists the entry points every attested provider set must expose.
var Manifest = []string{"canvas", "graphics", "audio", "fonts", "timing", "network", "host"}

// Providers is the injectable set of fingerprint sources handed to the aggregator.
type Providers struct {
	Canvas   Collector
	Graphics Collector
	Audio    Collector
	Fonts    Collector
	Timing   Collector
	Network  AddressCollector
	Host     Host
}

func (p *Providers) entries() map[string]any {
	return map[string]any{
		"canvas":   p.Canvas,
		"graphics": p.Graphics,
		"audio":    p.Audio,
		"fonts":    p.Fonts,
		"timing":   p.Timing,
		"network":  p.Network,
		"host":     p.Host,
	}
}

// Attestation pins the provider instances an aggregator was built with.
type Attestation struct {
	Digest string
	sealed Providers
}

// Seal records the current identity of every provider in p.
func Seal(p *Providers) Attestation {
	return Attestation{Digest: ManifestDigest(p), sealed: *p}
}

// ManifestDigest hashes the manifest version and the concrete type behind each entry.
func ManifestDigest(p *Providers) string {
	entries := p.entries()
	types := make(map[string]string, len(entries))
	for name, entry := range entries {
		types[name] = fmt.Sprintf("%T", entry)
	}
	return DigestOf(types)
}

// DigestOf hashes a declared manifest of entry name to concrete type name.
// Entries missing from types hash as "<nil>", the same as an unset provider.
func DigestOf(types map[string]string) string {
	lines := []string{ManifestVersion}
	for _, name := range Manifest {
		typ, ok := types[name]
		if !ok {
			typ = "<nil>"
		}
		lines = append(lines, name+"="+typ)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether live still holds exactly the sealed instances and
// matches trusted. It fails closed: any missing entry, swapped instance,
// digest mismatch or panic during the check yields false.
func (a Attestation) Verify(live *Providers, trusted string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if live == nil || trusted == "" {
		return false
	}

	current := live.entries()
	sealed := a.sealed.entries()
	for _, name := range Manifest {
		entry, exists := current[name]
		if !exists || isNil(entry) {
			return false
		}
		if entry != sealed[name] {
			return false
		}
	}
	return ManifestDigest(live) == a.Digest && a.Digest == trusted
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
