package services

import (
	"fmt"

	"talkmix/internal/core/domain"
)

// SpeakerController holds the focused stream and the candidate order the
// layout engine selects from. Not safe for concurrent use.
//
// Shift moves the speaker to the front. When the speaker was not visible and
// the visible set is full, the member that became visible longest ago is
// displaced (ties go to the later slot) and queued right behind the new window
// so it is the first to return. Swap exchanges the speaker with the stream in
// the primary slot and leaves every other position alone. A speaker that
// cannot be shown only moves to the front; nobody is displaced for it.
type SpeakerController struct {
	order    []domain.StreamID
	speaker  domain.StreamID
	visible  []domain.StreamID
	admitted map[domain.StreamID]uint64
	seq      uint64
}

func NewSpeakerController() *SpeakerController {
	return &SpeakerController{
		admitted: make(map[domain.StreamID]uint64),
	}
}

func (c *SpeakerController) Add(id domain.StreamID) {
	if indexOf(c.order, id) < 0 {
		c.order = append(c.order, id)
	}
}

// Forget drops the stream and reports whether it was the speaker.
func (c *SpeakerController) Forget(id domain.StreamID) bool {
	if i := indexOf(c.order, id); i >= 0 {
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
	if i := indexOf(c.visible, id); i >= 0 {
		c.visible = append(c.visible[:i:i], c.visible[i+1:]...)
	}
	delete(c.admitted, id)

	if c.speaker == id {
		c.speaker = ""
		return true
	}
	return false
}

func (c *SpeakerController) Current() domain.StreamID {
	return c.speaker
}

// Unset clears the speaker and reports whether one was set.
func (c *SpeakerController) Unset() bool {
	had := c.speaker != ""
	c.speaker = ""
	return had
}

// Set focuses id. maxVisible is the capacity the next layout will use and
// showable reports which streams the layout may place.
func (c *SpeakerController) Set(id domain.StreamID, mode domain.SpeakerMode, maxVisible int, showable func(domain.StreamID) bool) error {
	if indexOf(c.order, id) < 0 {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
	}

	switch {
	case mode != domain.SpeakerShift && mode != domain.SpeakerSwap:
		return fmt.Errorf("%w: unknown speaker mode %d", domain.ErrInvalidParameters, mode)
	case !showable(id):
		c.order = moveToFront(c.order, id)
	case mode == domain.SpeakerShift:
		c.shift(id, maxVisible)
	default:
		c.swap(id)
	}
	c.speaker = id
	return nil
}

func (c *SpeakerController) shift(id domain.StreamID, maxVisible int) {
	if maxVisible <= 0 || indexOf(c.visible, id) >= 0 || len(c.visible) < maxVisible {
		c.order = moveToFront(c.order, id)
		return
	}

	victim := c.oldestVisible(id)
	order := make([]domain.StreamID, 0, len(c.order))
	order = append(order, id)
	for _, v := range c.visible {
		if v != victim && v != id {
			order = append(order, v)
		}
	}
	order = append(order, victim)
	for _, o := range c.order {
		if indexOf(order, o) < 0 {
			order = append(order, o)
		}
	}
	c.order = order
}

func (c *SpeakerController) swap(id domain.StreamID) {
	if len(c.visible) == 0 {
		c.order = moveToFront(c.order, id)
		return
	}
	primary := c.visible[0]
	if primary == id {
		return
	}
	i, j := indexOf(c.order, primary), indexOf(c.order, id)
	if i < 0 {
		c.order = moveToFront(c.order, id)
		return
	}
	c.order[i], c.order[j] = c.order[j], c.order[i]
}

func (c *SpeakerController) oldestVisible(exclude domain.StreamID) domain.StreamID {
	var victim domain.StreamID
	var oldest uint64
	for _, v := range c.visible {
		if v == exclude {
			continue
		}
		seq := c.admitted[v]
		if victim == "" || seq <= oldest {
			victim, oldest = v, seq
		}
	}
	return victim
}

// Candidates returns the controller order restricted to showable streams.
func (c *SpeakerController) Candidates(showable func(domain.StreamID) bool) []domain.StreamID {
	out := make([]domain.StreamID, 0, len(c.order))
	for _, id := range c.order {
		if showable(id) {
			out = append(out, id)
		}
	}
	return out
}

// Observe records the visible set of the last applied plan.
func (c *SpeakerController) Observe(visible []domain.StreamID) {
	for _, id := range visible {
		if indexOf(c.visible, id) < 0 {
			c.seq++
			c.admitted[id] = c.seq
		}
	}
	for _, id := range c.visible {
		if indexOf(visible, id) < 0 {
			delete(c.admitted, id)
		}
	}
	c.visible = append(c.visible[:0:0], visible...)
}

// Order exposes the current candidate order.
func (c *SpeakerController) Order() []domain.StreamID {
	return append([]domain.StreamID(nil), c.order...)
}

func indexOf(ids []domain.StreamID, id domain.StreamID) int {
	for i, existing := range ids {
		if existing == id {
			return i
		}
	}
	return -1
}

func moveToFront(ids []domain.StreamID, id domain.StreamID) []domain.StreamID {
	i := indexOf(ids, id)
	if i <= 0 {
		return ids
	}
	copy(ids[1:i+1], ids[:i])
	ids[0] = id
	return ids
}
