package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_UserAndRoles(t *testing.T) {
	ctx := context.Background()

	_, ok := UserID(ctx)
	assert.False(t, ok)
	assert.False(t, HasRole(ctx, RoleAdmin))

	ctx = WithUserID(ctx, "teacher-1")
	ctx = WithRoles(ctx, []string{"teacher", RoleAdmin})
	ctx = WithTraceID(ctx, "trace-abc")

	uid, ok := UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "teacher-1", uid)

	tid, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-abc", tid)

	assert.True(t, HasRole(ctx, RoleAdmin))
	assert.False(t, HasRole(ctx, "owner"))
}

func TestContext_EmptyValuesAreAbsent(t *testing.T) {
	ctx := WithUserID(context.Background(), "")
	_, ok := UserID(ctx)
	assert.False(t, ok)

	ctx = WithRoles(ctx, nil)
	_, ok = Roles(ctx)
	assert.False(t, ok)
}
