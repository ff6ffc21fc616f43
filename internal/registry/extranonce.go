package registry

import "encoding/hex"

// AllocateExtranonce1 returns an unused extranonce1, packing InstanceID into
// the top 5 bits of the first byte and a registry-local counter into the
// rest (spec §3 invariant 5, §9 open question on layout). This is the only
// extranonce1 layout the registry supports: a single pool process per
// instance id, addressed by operators running more than one stratum process
// against the same daemon so their extranonce1 spaces never overlap.
func (r *Registry) AllocateExtranonce1() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totalBits := uint(r.cfg.Extranonce1Size * 8)
	counterBits := totalBits - 5
	maxCounter := (uint64(1) << counterBits) - 1

	for {
		if uint64(r.nextCounter) > maxCounter {
			return "", ErrExtranonceExhausted
		}
		counter := r.nextCounter
		r.nextCounter++

		packed := (uint64(r.cfg.InstanceID) << counterBits) | uint64(counter)
		buf := make([]byte, r.cfg.Extranonce1Size)
		for i := 0; i < r.cfg.Extranonce1Size; i++ {
			shift := uint(r.cfg.Extranonce1Size-1-i) * 8
			buf[i] = byte(packed >> shift)
		}
		hexStr := hex.EncodeToString(buf)

		if _, exists := r.liveExtra[hexStr]; exists {
			continue
		}
		r.liveExtra[hexStr] = struct{}{}
		liveExtranonceGauge.Set(float64(len(r.liveExtra)))
		return hexStr, nil
	}
}

// ReleaseExtranonce1 marks an extranonce1 as no longer live when its
// connection closes. The counter space itself is never reused within a
// registry's lifetime, so uniqueness across concurrent subscriptions (spec
// invariant 1) never depends on release ordering.
func (r *Registry) ReleaseExtranonce1(extranonce1 string) {
	r.mu.Lock()
	delete(r.liveExtra, extranonce1)
	liveExtranonceGauge.Set(float64(len(r.liveExtra)))
	r.mu.Unlock()

	r.workMu.Lock()
	delete(r.workLog, extranonce1)
	r.workMu.Unlock()
}
