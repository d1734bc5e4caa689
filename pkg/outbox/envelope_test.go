package outbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/pkg/enums"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","eventType":"order_created","data":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", env.EventID)
	assert.JSONEq(t, `{"x":1}`, string(env.Data))
	assert.True(t, env.Actor.IsSystem())

	cases := map[string]struct {
		raw  string
		want error
	}{
		"future version": {raw: `{"version":2,"eventId":"e1","data":{}}`, want: ErrEnvelopeVersion},
		"no version":     {raw: `{"eventId":"e1","data":{}}`, want: ErrEnvelopeVersion},
		"null data":      {raw: `{"version":1,"eventId":"e1","data":null}`, want: ErrEnvelopeData},
		"no data":        {raw: `{"version":1,"eventId":"e1"}`, want: ErrEnvelopeData},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.raw))
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err = DecodeEnvelope([]byte(`{"version":1,"data":{}}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`nope`))
	assert.Error(t, err)
}

func TestActorRefIsSystem(t *testing.T) {
	assert.True(t, SystemActor().IsSystem())
	assert.False(t, (&ActorRef{Role: enums.ActorRoleBuyer}).IsSystem())
}
