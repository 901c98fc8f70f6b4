package services

import (
	"fmt"

	"talkmix/internal/core/domain"
)

// BlindController tracks which streams render blank and how.
type BlindController struct {
	modes       map[domain.StreamID]domain.BlindMode
	defaultMode domain.BlindMode
}

func NewBlindController(defaultMode domain.BlindMode) *BlindController {
	if defaultMode == domain.BlindNone {
		defaultMode = domain.BlindSolid
	}
	return &BlindController{
		modes:       make(map[domain.StreamID]domain.BlindMode),
		defaultMode: defaultMode,
	}
}

// Set blinds or unblinds id. BlindNone with blinded=true selects the default mode.
func (b *BlindController) Set(id domain.StreamID, blinded bool, mode domain.BlindMode) error {
	if !blinded {
		delete(b.modes, id)
		return nil
	}
	switch mode {
	case domain.BlindNone:
		mode = b.defaultMode
	case domain.BlindSolid, domain.BlindFreeze:
	default:
		return fmt.Errorf("%w: unknown blind mode %d", domain.ErrInvalidParameters, mode)
	}
	b.modes[id] = mode
	return nil
}

func (b *BlindController) Mode(id domain.StreamID) domain.BlindMode {
	return b.modes[id]
}

func (b *BlindController) Forget(id domain.StreamID) {
	delete(b.modes, id)
}
