package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type orgKey struct{}

func WithOrgID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, orgKey{}, id)
}

func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(orgKey{}).(snowflake.ID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}
