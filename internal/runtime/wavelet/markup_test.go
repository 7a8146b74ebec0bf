package wavelet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkup(t *testing.T) {
	tests := map[string]string{
		"plain":                     "plain",
		"<p>one</p>":                "\none",
		"a<br>b":                    "a\nb",
		`<p class="x">styled</p>`:   "\nstyled",
		"<b>bold</b> and <i>it</i>": "bold and it",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMarkup(in), "input %q", in)
	}
}

func TestValidateProxyFor(t *testing.T) {
	for _, valid := range []string{"", "bob", "user-123", "a.b_c"} {
		assert.NoError(t, ValidateProxyFor(valid), valid)
	}
	for _, invalid := range []string{"bob smith", "a@b", "a,b", "a:b", "<x>", "tab\t", "nul\x00", "del\x7f"} {
		assert.ErrorIs(t, ValidateProxyFor(invalid), ErrInvalidProxyFor, invalid)
	}
}

func TestProxyingParticipant(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"robot@appspot.com", "robot+bob@appspot.com"},
		{"robot+old@appspot.com", "robot+bob@appspot.com"},
		{"robot#2@appspot.com", "robot+bob#2@appspot.com"},
	}
	for _, tt := range tests {
		got, err := ProxyingParticipant(tt.address, "bob")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ProxyingParticipant("no-domain", "bob")
	assert.Error(t, err)
	_, err = ProxyingParticipant("robot@appspot.com", "b@d")
	assert.ErrorIs(t, err, ErrInvalidProxyFor)
}
