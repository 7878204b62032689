package modbus

import (
	"testing"

	"github.com/cepro/virtualmeter/registers"
	"github.com/stretchr/testify/assert"
)

func TestBlocks(t *testing.T) {
	table := registers.Table{
		{Address: 3004, DataType: registers.Float32, Description: "Current B"},
		{Address: 3000, DataType: registers.Float32, Description: "Current A"},
		{Address: 3002, DataType: registers.Float32, Description: "Bad", Generation: nil},
		{Address: 3006, DataType: "FLOAT128", Description: "Unsupported"},
		{Address: 3010, DataType: registers.Int64, Description: "Energy"},
		{Address: 3011, DataType: registers.Int16, Description: "Inside energy"},
		{Address: 65535, DataType: registers.Float32, Description: "Past the end"},
	}

	result := blocks(table)
	if !assert.Len(t, result, 2) {
		return
	}

	assert.Equal(t, uint16(3000), result[0].start)
	assert.Equal(t, uint16(6), result[0].count)
	assert.Len(t, result[0].defs, 3)
	assert.Equal(t, "Current A", result[0].defs[0].Description)

	assert.Equal(t, uint16(3010), result[1].start)
	assert.Equal(t, uint16(4), result[1].count)
	assert.Len(t, result[1].defs, 2)
}

func TestBlocksRespectRequestLimit(t *testing.T) {
	var table registers.Table
	for i := 0; i < 100; i++ {
		table = append(table, registers.Definition{Address: i * 2, DataType: registers.Float32})
	}

	result := blocks(table)
	if !assert.Len(t, result, 2) {
		return
	}
	assert.Equal(t, uint16(124), result[0].count)
	assert.Equal(t, uint16(124), result[1].start)
	assert.Equal(t, uint16(76), result[1].count)
}
