package store

import (
	"errors"
	"fmt"
)

// DefaultSize covers the whole 16 bit Modbus register address space.
const DefaultSize = 65536

var ErrAddressRange = errors.New("address out of range")

// Block is a contiguous, zero initialised block of 16 bit registers starting at address 0.
// It is not safe for concurrent use, the owning device serialises access to it.
type Block struct {
	words []uint16
}

// NewBlock returns a block of `size` registers.
func NewBlock(size int) *Block {
	return &Block{words: make([]uint16, size)}
}

// Size returns the number of registers in the block.
func (b *Block) Size() int {
	return len(b.words)
}

// Get returns a copy of the `count` registers starting at `address`.
func (b *Block) Get(address int, count int) ([]uint16, error) {
	if err := b.checkRange(address, count); err != nil {
		return nil, err
	}
	words := make([]uint16, count)
	copy(words, b.words[address:address+count])
	return words, nil
}

// Set writes `words` into consecutive registers starting at `address`.
func (b *Block) Set(address int, words []uint16) error {
	if err := b.checkRange(address, len(words)); err != nil {
		return err
	}
	copy(b.words[address:], words)
	return nil
}

func (b *Block) checkRange(address int, count int) error {
	if address < 0 || count < 0 || address+count > len(b.words) {
		return fmt.Errorf("%w: %d registers at %d (block holds %d)", ErrAddressRange, count, address, len(b.words))
	}
	return nil
}
