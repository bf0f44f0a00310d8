package shared

import "context"

// ActorType distinguishes who performed an operation.
type ActorType string

const (
	ActorTypeCompany ActorType = "company"
	ActorTypeUser    ActorType = "user"
	ActorTypeSystem  ActorType = "system"
)

// Actor identifies the principal stamped on records as created_by/updated_by.
// Identity is supplied by the upstream auth layer and never re-derived here.
type Actor struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Type  ActorType `json:"type"`
	Layer string    `json:"layer,omitempty"`
}

type actorContextKey struct{}

type companyContextKey struct{}

// ContextWithActor stores the acting principal in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting principal from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithCompany stores the tenant scope in context.
func ContextWithCompany(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, companyContextKey{}, companyID)
}

// CompanyIDFromContext extracts the tenant scope from context.
func CompanyIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(companyContextKey{}).(int64)
	return id, ok
}
