package shared

import "context"

type actorContextKey struct{}

// ActorHeader carries the caller identity set by the upstream gateway.
const ActorHeader = "X-Actor"

// ContextWithActor stores the acting user or system identity in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor identity, empty when absent.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
