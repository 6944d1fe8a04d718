// Package reveal implements incremental text disclosure: a reply is shown
// one rune per tick so long answers appear to be typed out. Like the
// countdown in internal/timer, every Start issues a generation token and
// stale ticks are dropped, which keeps an old reveal from bleeding into a
// newer one when replies arrive in quick succession.
package reveal

// Reveal holds at most one in-progress disclosure. Not safe for concurrent
// use; the owning event loop drives it.
type Reveal struct {
	gen     int
	content []rune
	visible int
}

// Start replaces any in-progress reveal with the given content, fully
// hidden, and returns the new generation token. An empty string is complete
// immediately and will accept no ticks.
func (r *Reveal) Start(content string) int {
	r.gen++
	r.content = []rune(content)
	r.visible = 0
	return r.gen
}

// Tick discloses one more rune. ok is false when the tick was discarded
// (stale token, or nothing left to disclose). done is true on the tick that
// discloses the final rune.
func (r *Reveal) Tick(gen int) (done, ok bool) {
	if gen != r.gen || r.visible >= len(r.content) {
		return false, false
	}
	r.visible++
	return r.visible == len(r.content), true
}

// Skip discloses the remainder at once. Pending ticks for the current
// generation become no-ops.
func (r *Reveal) Skip() {
	r.visible = len(r.content)
}

// Cancel abandons the current reveal entirely. The partially disclosed text
// is cleared and any outstanding token is invalidated.
func (r *Reveal) Cancel() {
	r.gen++
	r.content = nil
	r.visible = 0
}

// Visible returns the disclosed prefix.
func (r *Reveal) Visible() string { return string(r.content[:r.visible]) }

// Done reports whether the full content is disclosed.
func (r *Reveal) Done() bool { return r.visible >= len(r.content) }
