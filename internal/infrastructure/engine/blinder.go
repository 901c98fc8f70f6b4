package engine

import (
	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
)

// SolidBlinder replaces the picture with a fixed black frame.
type SolidBlinder struct {
	color []byte
}

func NewSolidBlinder() *SolidBlinder {
	return &SolidBlinder{color: []byte{0x00, 0x00, 0x00}}
}

func (b *SolidBlinder) Mode() domain.BlindMode { return domain.BlindSolid }

func (b *SolidBlinder) Blind(_ []byte, _ domain.Region) []byte {
	return b.color
}

// FreezeBlinder keeps showing the picture captured when blinding started.
type FreezeBlinder struct{}

func NewFreezeBlinder() *FreezeBlinder {
	return &FreezeBlinder{}
}

func (b *FreezeBlinder) Mode() domain.BlindMode { return domain.BlindFreeze }

func (b *FreezeBlinder) Blind(last []byte, _ domain.Region) []byte {
	return last
}

func defaultBlinders() map[domain.BlindMode]ports.Blinder {
	return map[domain.BlindMode]ports.Blinder{
		domain.BlindSolid:  NewSolidBlinder(),
		domain.BlindFreeze: NewFreezeBlinder(),
	}
}
