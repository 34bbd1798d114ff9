package captain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticAuthenticatorSucceeds(t *testing.T) {
	auth := &StaticAuthenticator{Password: "swordfish", Users: map[string]int{"ada": 42}}

	uid, err := auth.Authenticate("ada", "swordfish")
	assert.NoError(t, err)
	assert.Equal(t, 42, uid)
}

func TestStaticAuthenticatorRejectsWrongPassword(t *testing.T) {
	auth := &StaticAuthenticator{Password: "swordfish", Users: map[string]int{"ada": 42}}
	_, err := auth.Authenticate("ada", "wrong")
	assert.Error(t, err)
}

func TestStaticAuthenticatorRejectsUnknownUser(t *testing.T) {
	auth := &StaticAuthenticator{Password: "swordfish", Users: map[string]int{"ada": 42}}
	_, err := auth.Authenticate("ghost", "swordfish")
	assert.Error(t, err)
}
