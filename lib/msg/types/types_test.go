package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "gw-1.log.abc", RoutingKey("gw-1", KindLog, "abc"))
	assert.Equal(t, "gw_1.rollback.a_b", RoutingKey("gw.1", KindRollback, "a.b"))
}
