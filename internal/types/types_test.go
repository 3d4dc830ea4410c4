package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessage_ParseViewerKey(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: `{"viewer_key":"12345678901234"}`, want: 12345678901234},
		{in: `{"viewer_key":"0"}`, want: 0},
		{in: `{"viewer_key":"18446744073709551615"}`, want: ^uint64(0)},
		{in: `{"viewer_key":""}`, wantErr: true},
		{in: `{}`, wantErr: true},
		{in: `{"viewer_key":"-1"}`, wantErr: true},
		{in: `{"viewer_key":"0x10"}`, wantErr: true},
		{in: `{"viewer_key":"18446744073709551616"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			var m ClientMessage
			require.NoError(t, json.Unmarshal([]byte(tc.in), &m))

			key, err := m.ParseViewerKey()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrBadViewerKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, key)
		})
	}
}
