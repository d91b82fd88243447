package domain

import (
	"errors"
	"testing"
)

func TestNormalizeNickname(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{name: "trims", in: "  Alice  ", want: "Alice"},
		{name: "blank", in: "   ", err: ErrNicknameBlank},
		{name: "sixteen ascii", in: "abcdefghijklmnop", want: "abcdefghijklmnop"},
		{name: "seventeen ascii", in: "abcdefghijklmnopq", err: ErrNicknameTooLong},
		// Emoji outside the BMP count once each.
		{name: "sixteen emoji", in: "😀😀😀😀😀😀😀😀😀😀😀😀😀😀😀😀", want: "😀😀😀😀😀😀😀😀😀😀😀😀😀😀😀😀"},
		{name: "control", in: "ab\u0007c", err: ErrNicknameControlChars},
		{name: "double space", in: "a  b", err: ErrNicknameSpacing},
		{name: "single space", in: "a b", want: "a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeNickname(tc.in)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
