package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequirePositive(t *testing.T) {
	cases := []struct {
		amount string
		ok     bool
	}{
		{"1", true},
		{"0.000000000000000001", true},
		{"2.500000000000000000000", true}, // 多余的 0 不算精度
		{"0", false},
		{"-1", false},
		{"0.0000000000000000005", false},
		{"1.0000000000000000001", false},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			err := requirePositive(dec(tc.amount))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}
