package server

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrUnknownUnit = errors.New("unknown unit id")

// Device is a simulated meter as seen by a Modbus front end. Every register table (coils, discrete inputs, holding
// and input registers) is backed by the device's single word block.
type Device interface {
	ID() uint8
	ReadWords(address int, count int) ([]uint16, error)
	WriteWords(address int, words []uint16) error
}

// Stats counts the requests served by a front end.
type Stats struct {
	Protocol string
	Units    []uint8
	Reads    uint64
	Writes   uint64
	Errors   uint64
}

// units maps Modbus unit (slave) ids to the devices answering them and counts the requests made of them.
type units struct {
	devices map[uint8]Device

	reads  atomic.Uint64
	writes atomic.Uint64
	errors atomic.Uint64
}

func newUnits(devices []Device) (*units, error) {
	u := &units{
		devices: make(map[uint8]Device, len(devices)),
	}
	for _, device := range devices {
		_, exists := u.devices[device.ID()]
		if exists {
			return nil, fmt.Errorf("duplicate unit id %d", device.ID())
		}
		u.devices[device.ID()] = device
	}
	return u, nil
}

func (u *units) lookup(unitID uint8) (Device, error) {
	device, ok := u.devices[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUnit, unitID)
	}
	return device, nil
}

func (u *units) read(unitID uint8, address int, count int) ([]uint16, error) {
	device, err := u.lookup(unitID)
	if err != nil {
		u.errors.Add(1)
		return nil, err
	}

	words, err := device.ReadWords(address, count)
	if err != nil {
		u.errors.Add(1)
		return nil, err
	}
	u.reads.Add(1)
	return words, nil
}

func (u *units) write(unitID uint8, address int, words []uint16) error {
	device, err := u.lookup(unitID)
	if err != nil {
		u.errors.Add(1)
		return err
	}

	err = device.WriteWords(address, words)
	if err != nil {
		u.errors.Add(1)
		return err
	}
	u.writes.Add(1)
	return nil
}

// readBits reads `count` registers and reports each one as set if it is non-zero.
func (u *units) readBits(unitID uint8, address int, count int) ([]bool, error) {
	words, err := u.read(unitID, address, count)
	if err != nil {
		return nil, err
	}

	bits := make([]bool, len(words))
	for i, word := range words {
		bits[i] = word != 0
	}
	return bits, nil
}

func (u *units) stats(protocol string) Stats {
	ids := maps.Keys(u.devices)
	slices.Sort(ids)

	return Stats{
		Protocol: protocol,
		Units:    ids,
		Reads:    u.reads.Load(),
		Writes:   u.writes.Load(),
		Errors:   u.errors.Load(),
	}
}
