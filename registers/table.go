package registers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/mitchellh/mapstructure"
)

var ErrSchema = errors.New("invalid register table")

var requiredFields = []string{"address", "data_type", "description"}

// GenerationSpec names the generator used to synthesise a register's value and the parameters passed to it.
type GenerationSpec struct {
	Type   string        `mapstructure:"type"`
	Params []interface{} `mapstructure:"params"`
}

// Definition describes a single register of a simulated meter.
type Definition struct {
	Address     int             `mapstructure:"address"`
	DataType    DataType        `mapstructure:"data_type"`
	Description string          `mapstructure:"description"`
	Generation  *GenerationSpec `mapstructure:"generation"` // nil when the register is never generated
}

// Supported reports whether the definition can be encoded and written: the data type must be known and the address
// must not be negative.
func (d Definition) Supported() bool {
	return d.DataType.Supported() && d.Address >= 0
}

// Table is the ordered set of register definitions for one device. It is never modified after loading.
type Table []Definition

// Overlap describes two definitions whose occupied registers intersect.
type Overlap struct {
	First  Definition
	Second Definition
}

// Overlaps returns every pair of definitions whose word ranges intersect. Writes to overlapping definitions are not
// guarded: whichever register is generated last wins.
func (t Table) Overlaps() []Overlap {
	var overlaps []Overlap
	for i := 0; i < len(t); i++ {
		a := t[i]
		if a.DataType.Words() == 0 {
			continue
		}
		for j := i + 1; j < len(t); j++ {
			b := t[j]
			if b.DataType.Words() == 0 {
				continue
			}
			if a.Address < b.Address+b.DataType.Words() && b.Address < a.Address+a.DataType.Words() {
				overlaps = append(overlaps, Overlap{First: a, Second: b})
			}
		}
	}
	return overlaps
}

// Generated returns the number of definitions that carry a generation spec.
func (t Table) Generated() int {
	n := 0
	for _, def := range t {
		if def.Generation != nil {
			n++
		}
	}
	return n
}

// LoadTable reads and strictly validates the register table JSON file at `path`.
// Any problem with the file is reported as an ErrSchema.
func LoadTable(path string) (Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read register file: %w", ErrSchema, err)
	}

	table, err := ParseTable(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ParseTable strictly validates the JSON register table and returns the definitions in file order. It fails on the
// first entry that is missing a required field.
func ParseTable(content []byte) (Table, error) {
	var raw interface{}
	err := json.Unmarshal(content, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrSchema, err)
	}

	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: register file must contain a list", ErrSchema)
	}

	table := make(Table, 0, len(entries))
	for i, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: entry %d is not an object", ErrSchema, i)
		}
		for _, field := range requiredFields {
			if _, found := fields[field]; !found {
				return nil, fmt.Errorf("%w: entry %d is missing required field '%s'", ErrSchema, i, field)
			}
		}

		if addr, ok := fields["address"].(float64); ok && addr != math.Trunc(addr) {
			return nil, fmt.Errorf("%w: entry %d address %v is not an integer", ErrSchema, i, addr)
		}

		def, err := decodeDefinition(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrSchema, i, err)
		}
		table = append(table, def)
	}

	return table, nil
}

// ValidDefinition is a lenient check of a single raw register entry. Unlike ParseTable it never fails, it returns
// false if a required field is missing, the data type is unsupported or the address is not a non-negative integer.
func ValidDefinition(fields map[string]interface{}) bool {
	for _, field := range requiredFields {
		if _, found := fields[field]; !found {
			return false
		}
	}

	switch addr := fields["address"].(type) {
	case float64:
		if addr != math.Trunc(addr) {
			return false
		}
	case int, int64:
	default:
		return false
	}

	def, err := decodeDefinition(fields)
	if err != nil {
		return false
	}
	return def.Supported()
}

// decodeDefinition converts the raw JSON fields into a Definition, applying the generation defaults: a missing
// generator type means "fixed", missing params mean none, and an empty generation object means no generation.
func decodeDefinition(fields map[string]interface{}) (Definition, error) {
	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &def,
		ErrorUnused: false,
	})
	if err != nil {
		return Definition{}, fmt.Errorf("create decoder: %w", err)
	}

	err = decoder.Decode(fields)
	if err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}

	if gen, ok := fields["generation"].(map[string]interface{}); ok && len(gen) == 0 {
		def.Generation = nil
	}
	if def.Generation != nil {
		if def.Generation.Type == "" {
			def.Generation.Type = "fixed"
		}
		if def.Generation.Params == nil {
			def.Generation.Params = []interface{}{}
		}
	}

	return def, nil
}
