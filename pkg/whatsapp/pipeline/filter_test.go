package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5511999999999@c.us", "5511999999999"},
		{"5511999999999@s.whatsapp.net", "5511999999999"},
		{"+55 11 99999-9999", "5511999999999"},
		{"1199999999", "551199999999"},
		{"21999999999", "5521999999999"},
		{"55119999999", "55119999999"},
		{"14155550100", "5514155550100"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		phone string
		want  bool
	}{
		{"5511999999999", true},
		{"4915112345678", true},
		{"1234567", false},
		{"1234567890123456", false},
		{"99999999", false},
		{"5500123456789", false},
		{"0011223344", false},
		{"5511111111111", false},
		{"11111111112", false},
		{"5511911111111", true},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidPhone(tt.phone))
		})
	}
}
